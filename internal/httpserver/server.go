package httpserver

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/webdav"

	"preseedd/internal/config"
	"preseedd/internal/preseed"
	"preseedd/internal/series"
	"preseedd/internal/sharecode"
)

const (
	seriesCookie = "series"
	maxFormBytes = 1 << 20
)

type Options struct {
	Config  config.Config
	Service *preseed.Service
	Log     logrus.FieldLogger
	// DAVRoot is the directory served under /dav/. Empty disables WebDAV.
	DAVRoot string
}

type Server struct {
	cfg     config.Config
	svc     *preseed.Service
	log     logrus.FieldLogger
	tmpl    *template.Template
	limiter *saveLimiter
	dav     http.Handler
}

//go:embed web/index.html
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("httpserver: nil service")
	}
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	tmpl, err := template.ParseFS(embeddedWeb, "web/index.html")
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     opts.Config,
		svc:     opts.Service,
		log:     log,
		tmpl:    tmpl,
		limiter: newSaveLimiter(opts.Config.SaveRate, opts.Config.SaveBurst),
	}
	if opts.DAVRoot != "" {
		s.dav = &webdav.Handler{
			Prefix:     "/dav",
			FileSystem: webdav.Dir(opts.DAVRoot),
			LockSystem: webdav.NewMemLS(),
			Logger: func(r *http.Request, err error) {
				if err != nil {
					log.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Warn("webdav")
				}
			},
		}
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /{$}", s.handleIndex)

	// The installer fetches these; both the bare and the d-i/ layouts work.
	mux.HandleFunc("GET /{series}/preseed.cfg", s.handlePreseed)
	mux.HandleFunc("GET /d-i/{series}/preseed.cfg", s.handlePreseed)
	mux.HandleFunc("GET /{series}/late_command", s.handleLateCommand)
	mux.HandleFunc("GET /d-i/{series}/late_command", s.handleLateCommand)

	var h http.Handler = mux
	if s.dav != nil {
		h = withDAV(s.dav, h)
	}
	h = withHeaders(h)
	h = loggingMiddleware(s.log, h)
	h = requestIDMiddleware(h)
	return h
}

// withDAV sends /dav and /dav/... to the WebDAV handler. It sits in front of
// the mux because its prefix would overlap the /{series}/... patterns.
func withDAV(dav, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dav" || strings.HasPrefix(r.URL.Path, "/dav/") {
			dav.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.svc.ValidateDefaults(r.Context()); err != nil {
		s.log.WithError(err).Warn("health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "missing default documents\n")
		return
	}
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) handlePreseed(w http.ResponseWriter, r *http.Request) {
	remote, ok := s.clientAddr(r)
	if !ok {
		http.Error(w, "bad client address", http.StatusBadRequest)
		return
	}
	share := validShare(r.URL.Query().Get("share"))
	doc, err := s.svc.GetDocument(r.Context(), preseed.Lookup{
		RemoteAddr: remote,
		Filename:   preseed.PreseedFile,
		Series:     r.PathValue("series"),
		ShareCode:  share,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeText(w, preseed.WithLateCommand(doc, s.lateCommandURL(r, share)))
}

func (s *Server) handleLateCommand(w http.ResponseWriter, r *http.Request) {
	remote, ok := s.clientAddr(r)
	if !ok {
		http.Error(w, "bad client address", http.StatusBadRequest)
		return
	}
	doc, err := s.svc.GetDocument(r.Context(), preseed.Lookup{
		RemoteAddr: remote,
		Filename:   preseed.LateCommandFile,
		Series:     r.PathValue("series"),
		ShareCode:  validShare(r.URL.Query().Get("share")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeText(w, doc)
}

type indexData struct {
	Client      string
	Preseed     string
	LateCommand string
	Series      []string
	Selected    string
	Any         string
	ShareCode   string
	ShareLink   string
	PreseedURL  string
	SavedFolder string
	Partial     bool
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	remote, ok := s.clientAddr(r)
	if !ok {
		http.Error(w, "bad client address", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	supported := s.svc.Series()
	data := indexData{
		Client:    remote,
		Series:    supported.Names(),
		Any:       series.Any,
		ShareCode: validShare(r.URL.Query().Get("share")),
	}

	if r.Method == http.MethodPost {
		if !s.limiter.allow(remote) {
			http.Error(w, "too many saves, try again later", http.StatusTooManyRequests)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		data.Selected = supported.Normalize(r.PostFormValue("series"))
		folder, err := s.svc.SaveDocument(ctx, remote, r.PostFormValue("preseed"), r.PostFormValue("late_command"), data.Selected)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		data.SavedFolder = folder
	} else {
		choice := r.URL.Query().Get("series")
		if choice == "" {
			if c, err := r.Cookie(seriesCookie); err == nil {
				choice = c.Value
			}
		}
		data.Selected = supported.Normalize(choice)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     seriesCookie,
		Value:    data.Selected,
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		SameSite: http.SameSiteLaxMode,
	})

	lookup := preseed.Lookup{RemoteAddr: remote, Series: data.Selected, ShareCode: data.ShareCode}
	var err error
	lookup.Filename = preseed.PreseedFile
	if data.Preseed, err = s.svc.GetDocument(ctx, lookup); err != nil {
		s.fail(w, r, err)
		return
	}
	lookup.Filename = preseed.LateCommandFile
	if data.LateCommand, err = s.svc.GetDocument(ctx, lookup); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.svc.CheckPair(ctx, remote, data.Selected); err != nil {
		if !errors.Is(err, preseed.ErrPartialPair) {
			s.fail(w, r, err)
			return
		}
		s.log.WithError(err).WithField("client", remote).Warn("partial document pair")
		data.Partial = true
	}

	origin := s.requestOrigin(r)
	data.PreseedURL = origin + "/d-i/" + url.PathEscape(data.Selected) + "/" + preseed.PreseedFile
	if code, ok := sharecode.Encode(remote); ok {
		data.ShareLink = data.PreseedURL + "?" + url.Values{"share": {code}}.Encode()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, data); err != nil {
		s.log.WithError(err).Error("render index")
	}
}

// --- helpers ---

// lateCommandURL points the installer back at this server for the
// late_command that belongs with the preseed being served.
func (s *Server) lateCommandURL(r *http.Request, share string) string {
	origin, _ := url.Parse(s.requestOrigin(r))
	u := url.URL{
		Scheme: origin.Scheme,
		Host:   origin.Host,
		Path:   strings.TrimSuffix(r.URL.Path, preseed.PreseedFile) + preseed.LateCommandFile,
	}
	if share != "" {
		u.RawQuery = url.Values{"share": {share}}.Encode()
	}
	return u.String()
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	entry := s.log.WithError(err).WithFields(logrus.Fields{
		"rid":  RequestIDFromContext(r.Context()),
		"path": r.URL.Path,
	})
	switch {
	case errors.Is(err, preseed.ErrBadClient):
		entry.Info("rejected client")
		http.Error(w, "bad client address", http.StatusBadRequest)
	case errors.Is(err, preseed.ErrNotFound):
		entry.Error("default document missing")
		http.Error(w, "missing default document", http.StatusInternalServerError)
	default:
		entry.Error("document i/o failed")
		http.Error(w, "storage error", http.StatusInternalServerError)
	}
}

// validShare keeps a share value only if it can influence resolution.
func validShare(v string) string {
	if v == series.Default {
		return v
	}
	if _, ok := sharecode.Decode(v); ok {
		return v
	}
	return ""
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, body)
}
