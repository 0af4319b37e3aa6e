package pass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strings"

	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/ports"
)

var ErrUnavailable = errors.New("pass command unavailable")

// entryPrefix namespaces rdx secrets inside the user's password store so
// they never collide with unrelated entries.
const entryPrefix = "rdx"

// missingEntryMarker is the stderr text pass emits when a show target does
// not exist. Matching on it is the only way to tell "not found" apart from
// other non-zero exits.
const missingEntryMarker = "is not in the password store"

type runFunc func(ctx context.Context, input string, args ...string) (stdout string, stderr string, err error)

type Store struct {
	run runFunc
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{run: runPassCommand}
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := entryPath(key)
	_, stderr, err := s.run(ctx, value+"\n", "insert", "-m", "-f", entry)
	if err != nil {
		return formatError("put", entry, err, stderr)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	entry := entryPath(key)
	stdout, stderr, err := s.run(ctx, "", "show", entry)
	if err != nil {
		if strings.Contains(stderr, missingEntryMarker) {
			return "", fmt.Errorf("pass secret %q: %w", entry, domain.ErrSecretNotFound)
		}
		return "", formatError("get", entry, err, stderr)
	}

	stdout = strings.TrimSuffix(stdout, "\n")
	stdout = strings.TrimSuffix(stdout, "\r")

	return stdout, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := entryPath(key)
	_, stderr, err := s.run(ctx, "", "rm", "-f", entry)
	if err != nil {
		return formatError("delete", entry, err, stderr)
	}

	return nil
}

func entryPath(key string) string {
	return path.Join(entryPrefix, key)
}

func runPassCommand(ctx context.Context, input string, args ...string) (string, string, error) {
	binary, err := exec.LookPath("pass")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", ErrUnavailable
		}
		return "", "", fmt.Errorf("locate pass command: %w", err)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	return stdout.String(), strings.TrimSpace(stderr.String()), err
}

func formatError(op string, entry string, err error, stderr string) error {
	if stderr == "" {
		return fmt.Errorf("pass %s %q: %w", op, entry, err)
	}

	return fmt.Errorf("pass %s %q: %w: %s", op, entry, err, stderr)
}
