// Package leveldbstore persists fingerprint to upload-URL associations in a
// local leveldb database, so uploads stay resumable across process restarts.
package leveldbstore

import (
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/imrenagi/go-tus-client/tus"
)

type Store struct {
	db *leveldb.DB
}

var _ tus.Store = (*Store)(nil)

// New opens (or creates) the leveldb database at path.
func New(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(fingerprint string) (string, bool) {
	url, err := s.db.Get([]byte(fingerprint), nil)
	if err != nil {
		return "", false
	}
	return string(url), true
}

func (s *Store) Set(fingerprint, url string) {
	s.db.Put([]byte(fingerprint), []byte(url), nil)
}

func (s *Store) Remove(fingerprint string) {
	s.db.Delete([]byte(fingerprint), nil)
}

// Close releases the database. The store must not be used afterwards.
func (s *Store) Close() error {
	return s.db.Close()
}
