package upload

import (
	"context"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-fileupload/upload/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/command"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	return repo.envVars[key]
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

// fakeCommandFactory records envman invocations as key/value outputs.
type fakeCommandFactory struct {
	mu      sync.Mutex
	outputs map[string]string
}

func newFakeCommandFactory() *fakeCommandFactory {
	return &fakeCommandFactory{outputs: map[string]string{}}
}

func (f *fakeCommandFactory) Create(name string, args []string, opts *command.Opts) command.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "envman" && len(args) >= 5 && args[0] == "add" {
		f.outputs[args[2]] = args[4]
	}
	return fakeCommand{}
}

type fakeCommand struct{}

func (c fakeCommand) PrintableCommandArgs() string                       { return "" }
func (c fakeCommand) Run() error                                         { return nil }
func (c fakeCommand) RunAndReturnExitCode() (int, error)                 { return 0, nil }
func (c fakeCommand) RunAndReturnTrimmedOutput() (string, error)         { return "", nil }
func (c fakeCommand) RunAndReturnTrimmedCombinedOutput() (string, error) { return "", nil }
func (c fakeCommand) Start() error                                       { return nil }
func (c fakeCommand) Wait() error                                        { return nil }

// memoryTransport stores uploads in memory.
type memoryTransport struct {
	mu        sync.Mutex
	uploads   map[string][]byte
	stored    map[string][]byte
	ends      []bool
	onChunk   func(offset int64)
	chunkErr  error
	wholeSent int
}

func newMemoryTransport() *memoryTransport {
	return &memoryTransport{
		uploads: map[string][]byte{},
		stored:  map[string][]byte{},
	}
}

func (m *memoryTransport) Begin(_ context.Context, fileName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle := "handle-" + fileName
	m.uploads[handle] = nil
	return handle, nil
}

func (m *memoryTransport) SendChunk(_ context.Context, handle string, data []byte, offset int64) error {
	if m.chunkErr != nil {
		return m.chunkErr
	}

	m.mu.Lock()
	m.uploads[handle] = append(m.uploads[handle], data...)
	m.mu.Unlock()

	if m.onChunk != nil {
		m.onChunk(offset)
	}
	return nil
}

func (m *memoryTransport) End(_ context.Context, handle string, totalSize int64, cancelled bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ends = append(m.ends, cancelled)
	if !cancelled {
		m.stored[handle] = m.uploads[handle]
	}
	delete(m.uploads, handle)
	return true, nil
}

func (m *memoryTransport) UploadWhole(_ context.Context, fileName string, data []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wholeSent++
	m.stored[fileName] = append([]byte{}, data...)
	return true, nil
}

var _ chunkuploader.Transport = (*memoryTransport)(nil)
