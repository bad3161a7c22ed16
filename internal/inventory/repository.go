package inventory

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mkern/rackfanctl/internal/errors"
	"codeberg.org/mkern/rackfanctl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db     *sql.DB
	logger logger.Logger
	mu     sync.Mutex
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	// Open database with specific pragmas for better performance and safety
	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	// Validate if schema is current, with backup if needed
	if err := ValidateAndUpdateSchema(db, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Server inventory initialized")

	return &repository{
		db:     db,
		logger: log,
	}, nil
}

func (r *repository) List() ([]ServerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	rows, err := r.db.Query(`
        SELECT name, vendor, address, username
        FROM servers
        ORDER BY name
    `)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var servers []ServerConfig
	for rows.Next() {
		var server ServerConfig
		if err := rows.Scan(&server.Name, &server.Vendor, &server.Address, &server.Username); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return servers, nil
}

func (r *repository) Get(name string) (ServerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	var server ServerConfig
	err := r.db.QueryRow(`
        SELECT name, vendor, address, username
        FROM servers
        WHERE name = ?
    `, name).Scan(&server.Name, &server.Vendor, &server.Address, &server.Username)

	if errors.Is(err, sql.ErrNoRows) {
		return ServerConfig{}, errFactory.WithData(ErrServerNotFound, name)
	}
	if err != nil {
		return ServerConfig{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	return server, nil
}

func (r *repository) Put(server ServerConfig) error {
	if err := server.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	if _, err := r.db.Exec(upsertServerSQL,
		server.Name, string(server.Vendor), server.Address, server.Username); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	r.logger.Debug().
		Str("server", server.Name).
		Str("vendor", server.Vendor.String()).
		Msg("Server stored")

	return nil
}

func (r *repository) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	result, err := r.db.Exec("DELETE FROM servers WHERE name = ?", name)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if affected == 0 {
		return errFactory.WithData(ErrServerNotFound, name)
	}

	r.logger.Debug().
		Str("server", name).
		Msg("Server removed")

	return nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Debug().Msg("Server inventory closed")

	return nil
}
