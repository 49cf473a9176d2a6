package lwm2m

// Storage persists the operational server address so that a restarted
// client can skip bootstrap.
//
// All methods must be safe for concurrent use.
type Storage interface {
	// Load returns the stored server, or nil if none was saved.
	Load() (*StoredServer, error)

	// Save replaces the stored server. A nil server clears it.
	Save(s *StoredServer) error
}

// StoredServer is the persisted server address.
type StoredServer struct {
	ServerHost string `yaml:"server_host"`
	ServerPort int    `yaml:"server_port"`
}

// Clone creates a copy of the stored server.
func (s *StoredServer) Clone() *StoredServer {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
