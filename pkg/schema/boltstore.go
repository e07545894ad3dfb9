package schema

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketDatabases = []byte("databases")
	bucketTables    = []byte("tables")
	bucketIndexes   = []byte("indexes")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the catalog database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "catalog.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketDatabases, bucketTables, bucketIndexes}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the catalog database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func idKey(id ObjectID) []byte {
	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, uint32(id))
	return key
}

// Database operations
func (s *BoltStore) CreateDatabase(db *Database) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		data, err := json.Marshal(db)
		if err != nil {
			return err
		}
		return b.Put(idKey(db.ID), data)
	})
}

func (s *BoltStore) GetDatabase(id ObjectID) (*Database, error) {
	var db Database
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		data := b.Get(idKey(id))
		if data == nil {
			return fmt.Errorf("database not found: %d", id)
		}
		return json.Unmarshal(data, &db)
	})
	if err != nil {
		return nil, err
	}
	return &db, nil
}

func (s *BoltStore) GetDatabaseByName(name string) (*Database, error) {
	var found *Database
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		return b.ForEach(func(k, v []byte) error {
			var db Database
			if err := json.Unmarshal(v, &db); err != nil {
				return err
			}
			if db.Name == name {
				found = &db
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("database not found: %s", name)
	}
	return found, nil
}

func (s *BoltStore) ListDatabases() ([]*Database, error) {
	var dbs []*Database
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		return b.ForEach(func(k, v []byte) error {
			var db Database
			if err := json.Unmarshal(v, &db); err != nil {
				return err
			}
			dbs = append(dbs, &db)
			return nil
		})
	})
	return dbs, err
}

func (s *BoltStore) DeleteDatabase(id ObjectID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		return b.Delete(idKey(id))
	})
}

// Table operations
func (s *BoltStore) CreateTable(table *Table) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		data, err := json.Marshal(table)
		if err != nil {
			return err
		}
		return b.Put(idKey(table.ID), data)
	})
}

func (s *BoltStore) GetTable(id ObjectID) (*Table, error) {
	var table Table
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		data := b.Get(idKey(id))
		if data == nil {
			return fmt.Errorf("table not found: %d", id)
		}
		return json.Unmarshal(data, &table)
	})
	if err != nil {
		return nil, err
	}
	return &table, nil
}

func (s *BoltStore) GetTableByName(db ObjectID, name string) (*Table, error) {
	var found *Table
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		return b.ForEach(func(k, v []byte) error {
			var table Table
			if err := json.Unmarshal(v, &table); err != nil {
				return err
			}
			if table.Database == db && table.Name == name {
				found = &table
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("table not found: %s", name)
	}
	return found, nil
}

func (s *BoltStore) ListTables(db ObjectID) ([]*Table, error) {
	var tables []*Table
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		return b.ForEach(func(k, v []byte) error {
			var table Table
			if err := json.Unmarshal(v, &table); err != nil {
				return err
			}
			if table.Database == db {
				tables = append(tables, &table)
			}
			return nil
		})
	})
	return tables, err
}

func (s *BoltStore) UpdateTable(table *Table) error {
	return s.CreateTable(table) // Same as create (upsert)
}

func (s *BoltStore) DeleteTable(id ObjectID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		return b.Delete(idKey(id))
	})
}

// Index operations
func (s *BoltStore) CreateIndex(index *Index) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexes)
		data, err := json.Marshal(index)
		if err != nil {
			return err
		}
		return b.Put(idKey(index.ID), data)
	})
}

func (s *BoltStore) GetIndex(id ObjectID) (*Index, error) {
	var index Index
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexes)
		data := b.Get(idKey(id))
		if data == nil {
			return fmt.Errorf("index not found: %d", id)
		}
		return json.Unmarshal(data, &index)
	})
	if err != nil {
		return nil, err
	}
	return &index, nil
}

func (s *BoltStore) ListIndexes(table ObjectID) ([]*Index, error) {
	var indexes []*Index
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexes)
		return b.ForEach(func(k, v []byte) error {
			var index Index
			if err := json.Unmarshal(v, &index); err != nil {
				return err
			}
			if index.Table == table {
				indexes = append(indexes, &index)
			}
			return nil
		})
	})
	return indexes, err
}

func (s *BoltStore) DeleteIndex(id ObjectID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexes)
		return b.Delete(idKey(id))
	})
}

// MaxObjectID scans every bucket for the highest id present.
func (s *BoltStore) MaxObjectID() (ObjectID, error) {
	var max uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketDatabases, bucketTables, bucketIndexes} {
			b := tx.Bucket(bucket)
			if err := b.ForEach(func(k, v []byte) error {
				if id := binary.LittleEndian.Uint32(k); id > max {
					max = id
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return ObjectID(max), err
}
