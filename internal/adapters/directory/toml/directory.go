package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/ports"
)

const (
	configName         = "config"
	configType         = "toml"
	machinesPathKey    = "machines.path"
	machinesFileMode   = 0o600
	machinesDirMode    = 0o700
	machinesConfigDir  = ".rdx"
	machinesConfigFile = "machines.toml"
	tempFilePattern    = ".machines-*.toml.tmp"
)

// Directory stores the machine catalog in a TOML file. Writes go through a
// temp file plus rename so a crash never leaves a half-written catalog.
type Directory struct {
	machinesPath string
	mu           *sync.RWMutex
}

// Instances opened on the same path share one lock so concurrent saves from
// separate Directory values cannot interleave their read-modify-write cycles.
var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.MachineDirectory = (*Directory)(nil)

func NewDirectory(cfg *viper.Viper) (*Directory, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	defaultPath := filepath.Join(homeDir, machinesConfigDir, machinesConfigFile)

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(filepath.Join(homeDir, machinesConfigDir))
	cfg.SetDefault(machinesPathKey, defaultPath)

	err = cfg.ReadInConfig()
	if err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	machinesPath := cfg.GetString(machinesPathKey)
	if machinesPath == "" {
		return nil, errors.New("machines path is empty")
	}
	machinesPath, err = normalizeMachinesPath(machinesPath)
	if err != nil {
		return nil, err
	}

	return &Directory{machinesPath: machinesPath, mu: lockForPath(machinesPath)}, nil
}

// Resolve matches the identifier case-insensitively since deep links carry
// hostnames and those compare caseless.
func (d *Directory) Resolve(ctx context.Context, instance string) (domain.Machine, error) {
	if err := ctx.Err(); err != nil {
		return domain.Machine{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	file, err := d.readSchema()
	if err != nil {
		return domain.Machine{}, err
	}

	for _, entry := range file.Machines {
		if strings.EqualFold(entry.ID, instance) {
			return fromSchema(entry), nil
		}
	}

	return domain.Machine{}, domain.ErrMachineNotFound
}

func (d *Directory) List(ctx context.Context) ([]domain.Machine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	file, err := d.readSchema()
	if err != nil {
		return nil, err
	}

	machines := make([]domain.Machine, 0, len(file.Machines))
	for _, entry := range file.Machines {
		machines = append(machines, fromSchema(entry))
	}

	return machines, nil
}

func (d *Directory) Save(ctx context.Context, machine domain.Machine) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	file, err := d.readSchema()
	if err != nil {
		return err
	}
	file.applyDefaults()

	encoded := toSchema(machine)
	updated := false
	for i := range file.Machines {
		if strings.EqualFold(file.Machines[i].ID, encoded.ID) {
			file.Machines[i] = encoded
			updated = true
			break
		}
	}

	if !updated {
		file.Machines = append(file.Machines, encoded)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return d.writeSchema(file)
}

func (d *Directory) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(d.machinesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, nil
		}
		return fileSchema{}, fmt.Errorf("read machines file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode machines file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func (d *Directory) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(d.machinesPath), machinesDirMode); err != nil {
		return fmt.Errorf("create machines directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode machines file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(d.machinesPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp machines file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp machines file: %w", err)
	}

	if err := tempFile.Chmod(machinesFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp machines file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp machines file: %w", err)
	}

	if err := os.Rename(tempName, d.machinesPath); err != nil {
		return fmt.Errorf("replace machines file: %w", err)
	}

	cleanup = false

	if err := os.Chmod(d.machinesPath, machinesFileMode); err != nil {
		return fmt.Errorf("chmod machines file: %w", err)
	}

	return nil
}

func normalizeMachinesPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve machines path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func toSchema(machine domain.Machine) machineSchema {
	return machineSchema{
		ID:       string(machine.ID),
		Name:     machine.Name,
		Host:     machine.Host,
		Port:     machine.Port,
		Protocol: machine.Protocol,
		Username: machine.Username,
		Group:    machine.Group,
	}
}

func fromSchema(entry machineSchema) domain.Machine {
	protocol := entry.Protocol
	if protocol == "" {
		protocol = domain.LinkScheme
	}

	return domain.Machine{
		ID:       domain.MachineID(entry.ID),
		Name:     entry.Name,
		Host:     entry.Host,
		Port:     entry.Port,
		Protocol: protocol,
		Username: entry.Username,
		Group:    entry.Group,
	}
}
