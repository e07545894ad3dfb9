package schema

// Store is the catalog persistence interface. Object metadata survives
// restarts; the page data the objects describe lives in the drivers'
// own files.
type Store interface {
	// Databases
	CreateDatabase(db *Database) error
	GetDatabase(id ObjectID) (*Database, error)
	GetDatabaseByName(name string) (*Database, error)
	ListDatabases() ([]*Database, error)
	DeleteDatabase(id ObjectID) error

	// Tables
	CreateTable(table *Table) error
	GetTable(id ObjectID) (*Table, error)
	GetTableByName(db ObjectID, name string) (*Table, error)
	ListTables(db ObjectID) ([]*Table, error)
	UpdateTable(table *Table) error
	DeleteTable(id ObjectID) error

	// Indexes
	CreateIndex(index *Index) error
	GetIndex(id ObjectID) (*Index, error)
	ListIndexes(table ObjectID) ([]*Index, error)
	DeleteIndex(id ObjectID) error

	// MaxObjectID returns the highest object id present in the catalog,
	// used to reconcile the id allocator during replay.
	MaxObjectID() (ObjectID, error)

	// Utility
	Close() error
}
