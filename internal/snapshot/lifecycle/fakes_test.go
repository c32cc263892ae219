package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/host"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
	"github.com/yndnr/memsnap-go/internal/snapshot/dynlib"
)

type fakeInterp struct {
	sources []string
	// failing lists substrings; any source containing one fails.
	failing []string
}

func (f *fakeInterp) RunCode(_ context.Context, source string) error {
	f.sources = append(f.sources, source)
	for _, s := range f.failing {
		if strings.Contains(source, s) {
			return errors.New("ModuleNotFoundError: " + s)
		}
	}
	return nil
}

type fakeStore struct {
	mu         sync.Mutex
	enabled    bool
	validating bool
	artifact   []byte
	kind       codec.Kind
	openErr    error

	uploadOK  bool
	uploadErr error
	uploads   [][]byte
	sources   []*codec.BytesSource
}

func (s *fakeStore) IsEnabled() bool    { return s.enabled }
func (s *fakeStore) IsValidating() bool { return s.validating }

func (s *fakeStore) Upload(_ context.Context, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, data)
	return s.uploadOK, s.uploadErr
}

func (s *fakeStore) Open(context.Context) (codec.Source, codec.Kind, error) {
	if s.openErr != nil {
		return nil, codec.KindUnknown, s.openErr
	}
	if s.artifact == nil {
		return nil, codec.KindUnknown, artifact.ErrNotFound
	}
	src := codec.NewBytesSource(s.artifact)
	s.sources = append(s.sources, src)
	return src, s.kind, nil
}

type fakeLoader struct {
	settings   host.Settings
	registered []string
	prior      domain.DsoMetadata
	handles    map[domain.Handle]string
}

func (l *fakeLoader) Handles() map[domain.Handle]string { return l.handles }
func (l *fakeLoader) Configure(s host.Settings)         { l.settings = s }

func (l *fakeLoader) Register(prior domain.DsoMetadata) dynlib.RegisterFunc {
	l.prior = prior
	return func(_ context.Context, path string, _ []byte) error {
		l.registered = append(l.registered, path)
		return nil
	}
}

func encodeSnapshot(heap []byte, dso domain.DsoMetadata) []byte {
	art, err := codec.Encode(heap, dso)
	if err != nil {
		panic(err)
	}
	return art.Bytes()
}
