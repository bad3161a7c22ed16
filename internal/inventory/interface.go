package inventory

import (
	"fmt"

	"codeberg.org/mkern/rackfanctl/internal/errors"
)

// Vendor selects the management protocol family for a server.
type Vendor string

const (
	VendorDell Vendor = "dell"
	VendorHPE  Vendor = "hpe"
)

func (v Vendor) IsValid() bool {
	return v == VendorDell || v == VendorHPE
}

func (v Vendor) String() string {
	return string(v)
}

// ServerConfig describes one managed server. Secret is carried in
// memory only, for handoff to the secret store; it is never written
// to the inventory database.
type ServerConfig struct {
	Name     string
	Vendor   Vendor
	Address  string
	Username string
	Secret   string
}

func (c ServerConfig) Validate() error {
	errFactory := errors.New()

	if c.Name == "" {
		return errFactory.WithData(ErrInvalidServer, "name is required")
	}
	if !c.Vendor.IsValid() {
		return errFactory.WithData(ErrInvalidServer, fmt.Sprintf("unknown vendor %q", c.Vendor))
	}
	if c.Address == "" {
		return errFactory.WithData(ErrInvalidServer, "address is required")
	}
	if c.Username == "" {
		return errFactory.WithData(ErrInvalidServer, "username is required")
	}

	return nil
}

// Repository defines the interface for durable server inventory storage
type Repository interface {
	List() ([]ServerConfig, error)
	Get(name string) (ServerConfig, error)
	Put(server ServerConfig) error
	Delete(name string) error
	Close() error
}
