package preseed

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"preseedd/internal/fsutil"
	"preseedd/internal/series"
	"preseedd/internal/store"
)

// Service reads and writes client documents.
type Service struct {
	*Resolver
	backend store.Backend
	log     logrus.FieldLogger
}

func NewService(backend store.Backend, supported series.Set, log logrus.FieldLogger) *Service {
	return &Service{
		Resolver: NewResolver(backend, supported),
		backend:  backend,
		log:      log,
	}
}

// Series is the supported series set fixed at startup.
func (s *Service) Series() series.Set { return s.series }

// GetDocument returns the most specific document for l.
func (s *Service) GetDocument(ctx context.Context, l Lookup) (string, error) {
	key, err := s.Resolve(ctx, l)
	if err != nil {
		return "", err
	}
	b, err := s.backend.Read(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotExist) {
			return "", oops.Wrapf(ErrNotFound, "%s", key)
		}
		return "", oops.Wrapf(errors.Join(ErrRead, err), "%s", key)
	}
	s.log.WithFields(logrus.Fields{"client": l.RemoteAddr, "key": key}).Debug("document resolved")
	return string(b), nil
}

// Folder is where SaveDocument writes for a client and series.
func (s *Service) Folder(remoteAddr, seriesName string) (string, error) {
	segs := []string{clientDir, remoteAddr}
	if s.series.Contains(seriesName) {
		segs = append(segs, seriesName)
	}
	key, err := fsutil.Key(segs...)
	if err != nil {
		return "", oops.Wrapf(ErrBadClient, "%q", remoteAddr)
	}
	return key, nil
}

// SaveDocument stores both documents for the client. Text is normalized
// first and written with a single trailing newline. Each file is replaced on
// its own; a failure between the two leaves a partial pair behind, which
// CheckPair reports.
func (s *Service) SaveDocument(ctx context.Context, remoteAddr, preseed, lateCommand, seriesName string) (string, error) {
	folder, err := s.Folder(remoteAddr, seriesName)
	if err != nil {
		return "", err
	}
	files := []struct{ name, text string }{
		{PreseedFile, preseed},
		{LateCommandFile, lateCommand},
	}
	for _, f := range files {
		key := folder + "/" + f.name
		if err := s.backend.Write(ctx, key, []byte(Normalize(f.text)+"\n")); err != nil {
			return "", oops.Wrapf(err, "save %s", key)
		}
	}
	s.log.WithFields(logrus.Fields{"client": remoteAddr, "folder": folder}).Info("documents saved")
	return folder, nil
}

// CheckPair returns ErrPartialPair when exactly one of the two documents
// exists in the client's folder for seriesName.
func (s *Service) CheckPair(ctx context.Context, remoteAddr, seriesName string) error {
	folder, err := s.Folder(remoteAddr, seriesName)
	if err != nil {
		return err
	}
	var present []string
	for _, name := range []string{PreseedFile, LateCommandFile} {
		ok, err := s.backend.Exists(ctx, folder+"/"+name)
		if err != nil {
			return oops.Wrapf(err, "check %s", folder)
		}
		if ok {
			present = append(present, name)
		}
	}
	if len(present) == 1 {
		return oops.Wrapf(ErrPartialPair, "%s has only %s", folder, present[0])
	}
	return nil
}

// ValidateDefaults checks that the global documents exist.
func (s *Service) ValidateDefaults(ctx context.Context) error {
	var missing []string
	for _, name := range []string{PreseedFile, LateCommandFile} {
		ok, err := s.backend.Exists(ctx, name)
		if err != nil {
			return oops.Wrapf(err, "check default %s", name)
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return oops.Wrapf(ErrNotFound, "missing defaults %s", strings.Join(missing, ", "))
	}
	return nil
}

// Normalize converts CRLF to LF and drops trailing whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimRightFunc(text, unicode.IsSpace)
}

// LateCommandDirective is the d-i line that makes the installer fetch and run
// the client's late_command from url.
func LateCommandDirective(url string) string {
	return "d-i preseed/late_command string" +
		" in-target wget -O late_command '" + url + "' ;" +
		" in-target sh late_command ;" +
		" in-target rm late_command"
}

// WithLateCommand appends the directive to a preseed document.
func WithLateCommand(preseed, url string) string {
	var b strings.Builder
	b.WriteString(preseed)
	if preseed != "" && !strings.HasSuffix(preseed, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(LateCommandDirective(url))
	b.WriteByte('\n')
	return b.String()
}
