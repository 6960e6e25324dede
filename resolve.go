package mediakit

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Resolver maps input URIs to local files. Remote inputs are downloaded
// into TempDir and removed by the returned cleanup function.
type Resolver struct {
	TempDir string
	Timeout time.Duration // Per download (0 = no limit)
	Client  *http.Client
	Logger  hclog.Logger
}

func (r *Resolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: r.Timeout}
}

// Resolve returns a local path for uri and a cleanup function, which is
// never nil.
func (r *Resolver) Resolve(ctx context.Context, uri string) (string, func(), error) {
	const op = "resolve"
	cleanup := func() {}
	if uri == "" {
		return "", cleanup, newError(KindInvalidArgument, op, "empty uri")
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return r.local(uri)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return r.local(u.Path)
	case "http", "https":
		return r.download(ctx, u)
	default:
		return "", cleanup, newError(KindIO, op, "unsupported uri scheme %q", u.Scheme)
	}
}

func (r *Resolver) local(p string) (string, func(), error) {
	if _, err := os.Stat(p); err != nil {
		return "", func() {}, &Error{Kind: KindIO, Op: "resolve.Local", Err: errors.Wrapf(err, "open %s", p)}
	}
	return p, func() {}, nil
}

func (r *Resolver) download(ctx context.Context, u *url.URL) (string, func(), error) {
	const op = "resolve.Download"
	noop := func() {}
	log := loggerOr(r.Logger).Named("resolve")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", noop, &Error{Kind: KindIO, Op: op, Err: err}
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return "", noop, &Error{Kind: KindIO, Op: op, Err: errors.Wrapf(err, "fetch %s", u.Redacted())}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", noop, newError(KindIO, op, "fetch %s: status %d", u.Redacted(), resp.StatusCode)
	}

	dir := r.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "src-"+uuid.NewString()[:8]+"-*"+path.Ext(u.Path))
	if err != nil {
		return "", noop, &Error{Kind: KindIO, Op: op, Err: errors.Wrap(err, "create temp file")}
	}
	name := f.Name()
	cleanup := func() {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove download", "path", name, "error", err)
		}
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", noop, &Error{Kind: KindIO, Op: op, Err: errors.Wrapf(err, "download %s", u.Redacted())}
	}
	log.Debug("downloaded source", "url", u.Redacted(), "path", name, "bytes", n)
	return name, cleanup, nil
}
