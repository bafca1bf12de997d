// Package hub fetches model and tokenizer artifacts from a Hugging Face style
// repository and caches them on local disk.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chenhunghan/oxpilot/internal/logger"
)

const (
	DefaultRevision      = "main"
	DefaultTokenizerFile = "tokenizer.json"
	DefaultEndpoint      = "https://huggingface.co"

	EnvCacheDir = "OX_CACHE_DIR"
	EnvEndpoint = "OX_HUB_ENDPOINT"
	EnvToken    = "OX_HUB_TOKEN"
)

// ErrNotFound is returned when the repository has no such file.
var ErrNotFound = errors.New("artifact not found")

type Options struct {
	// Revision applies to both repositories unless the per-repo fields are set.
	Revision          string
	TokenizerRevision string
	ModelRevision     string
	TokenizerFile     string
	Endpoint          string
	CacheDir          string
	Token             string
	HTTPClient        *http.Client
	Logger            logger.Logger
}

// Source names the tokenizer and model artifacts to provision.
type Source struct {
	TokenizerRepo     string
	TokenizerRevision string
	TokenizerFile     string
	ModelRepo         string
	ModelRevision     string
	ModelFile         string

	endpoint string
	cacheDir string
	token    string
	client   *http.Client
	log      logger.Logger
}

// NewSource returns a Source for the mandatory repositories and model file,
// filling optional fields from opts, the environment and defaults.
func NewSource(tokenizerRepo, modelRepo, modelFile string, opts Options) (*Source, error) {
	if strings.TrimSpace(tokenizerRepo) == "" {
		return nil, errors.New("tokenizer repository is required")
	}
	if strings.TrimSpace(modelRepo) == "" {
		return nil, errors.New("model repository is required")
	}
	if strings.TrimSpace(modelFile) == "" {
		return nil, errors.New("model file is required")
	}

	revision := firstNonEmpty(opts.Revision, DefaultRevision)
	cacheDir := firstNonEmpty(opts.CacheDir, os.Getenv(EnvCacheDir))
	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		cacheDir = filepath.Join(base, "ox", "hub")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	return &Source{
		TokenizerRepo:     tokenizerRepo,
		TokenizerRevision: firstNonEmpty(opts.TokenizerRevision, revision),
		TokenizerFile:     firstNonEmpty(opts.TokenizerFile, DefaultTokenizerFile),
		ModelRepo:         modelRepo,
		ModelRevision:     firstNonEmpty(opts.ModelRevision, revision),
		ModelFile:         modelFile,
		endpoint:          strings.TrimRight(firstNonEmpty(opts.Endpoint, os.Getenv(EnvEndpoint), DefaultEndpoint), "/"),
		cacheDir:          cacheDir,
		token:             firstNonEmpty(opts.Token, os.Getenv(EnvToken)),
		client:            client,
		log:               log,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Source) CacheDir() string { return s.cacheDir }

// Tokenizer returns a local path to the tokenizer file.
func (s *Source) Tokenizer(ctx context.Context) (string, error) {
	return s.Fetch(ctx, s.TokenizerRepo, s.TokenizerRevision, s.TokenizerFile)
}

// TokenizerConfig returns a local path to tokenizer_config.json, or "" when the
// repository does not carry one.
func (s *Source) TokenizerConfig(ctx context.Context) (string, error) {
	path, err := s.Fetch(ctx, s.TokenizerRepo, s.TokenizerRevision, "tokenizer_config.json")
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return path, err
}

// Model returns a local path to the model file.
func (s *Source) Model(ctx context.Context) (string, error) {
	return s.Fetch(ctx, s.ModelRepo, s.ModelRevision, s.ModelFile)
}

// Fetch returns a local path for file in repo at revision. Repositories that
// name an existing directory are read in place; otherwise the file is served
// from the cache or downloaded into it.
func (s *Source) Fetch(ctx context.Context, repo, revision, file string) (string, error) {
	if err := validatePart("file name", file); err != nil {
		return "", err
	}
	if info, err := os.Stat(repo); err == nil && info.IsDir() {
		path := filepath.Join(repo, filepath.FromSlash(file))
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("%s in %s: %w", file, repo, ErrNotFound)
			}
			return "", err
		}
		return path, nil
	}

	if err := validatePart("repository", repo); err != nil {
		return "", err
	}
	if err := validatePart("revision", revision); err != nil {
		return "", err
	}
	dest := filepath.Join(s.cacheDir, filepath.FromSlash(repo), revision, filepath.FromSlash(file))
	if _, err := os.Stat(dest); err == nil {
		s.log.Debug("hub cache hit", "repo", repo, "revision", revision, "file", file)
		return dest, nil
	}
	if err := s.download(ctx, repo, revision, file, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// validatePart rejects values that would resolve outside the directory they
// are joined onto.
func validatePart(kind, value string) error {
	if value == "" {
		return fmt.Errorf("empty %s", kind)
	}
	clean := filepath.ToSlash(filepath.Clean(value))
	if filepath.IsAbs(value) || strings.HasPrefix(value, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("invalid %s %q", kind, value)
	}
	return nil
}

// ResolveURL returns the download URL for file in repo at revision.
func (s *Source) ResolveURL(repo, revision, file string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", s.endpoint, repo, url.PathEscape(revision), file)
}

func (s *Source) download(ctx context.Context, repo, revision, file, dest string) error {
	u := s.ResolveURL(repo, revision, file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	s.log.Info("downloading artifact", "repo", repo, "revision", revision, "file", file)
	start := time.Now()

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s/%s@%s: %w", repo, file, revision, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("fetch %s: unexpected status %s", u, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fetch %s: short body (%d of %d bytes)", u, n, resp.ContentLength)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	s.log.Info("artifact cached", "file", file, "bytes", n, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
