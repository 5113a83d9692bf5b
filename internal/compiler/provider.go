package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/pendergraft/solcverify/internal/observability/metrics"
)

// Default artifact hosts.
const (
	DefaultSolcHost  = "https://binaries.soliditylang.org"
	DefaultVyperHost = "https://github.com/vyperlang/vyper/releases/download"
)

// versionCheckTimeout bounds the self-check of a downloaded binary.
const versionCheckTimeout = 30 * time.Second

// maxRedirectBody bounds the size of a response that may be a pointer to
// another artifact rather than the artifact itself.
const maxRedirectBody = 256

// redirectPattern matches a release host answering with the name of the
// real artifact ("solc-linux-amd64-v0.5.0+commit.1d4f565a") instead of
// its content.
var redirectPattern = regexp.MustCompile(`^[\w.-]+-v\d+\.\d+\.\d+(-[\w.]+)?\+commit\.[0-9a-fA-F]+(\.exe|\.js)?$`)

// ProviderConfig configures compiler provisioning.
type ProviderConfig struct {
	CacheDir  string
	SolcHost  string
	VyperHost string
	Backoff   BackoffConfig
	// Platform overrides the platform detected from the running process.
	Platform Platform
	// DescriptorCacheSize bounds the in-memory set of already validated
	// compilers.
	DescriptorCacheSize int
}

// Provider resolves compiler builds to validated local files. Concurrent
// resolutions of the same build within a process share one download;
// across processes the last writer wins and every reader validates what
// it finds.
type Provider struct {
	cfg       ProviderConfig
	client    Doer
	logger    *slog.Logger
	platform  Platform
	group     singleflight.Group
	validated *lru.Cache[string, Descriptor]

	// validate runs a freshly saved or cached binary's self-check.
	validate func(ctx context.Context, path string) error
}

// NewProvider creates a Provider.
func NewProvider(cfg ProviderConfig, client Doer, logger *slog.Logger) (*Provider, error) {
	if cfg.CacheDir == "" {
		return nil, errors.New("compiler cache directory is required")
	}
	if cfg.SolcHost == "" {
		cfg.SolcHost = DefaultSolcHost
	}
	if cfg.VyperHost == "" {
		cfg.VyperHost = DefaultVyperHost
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.DescriptorCacheSize <= 0 {
		cfg.DescriptorCacheSize = 64
	}

	platform := cfg.Platform
	if platform == "" {
		var err error
		platform, err = CurrentPlatform()
		if err != nil {
			logger.Info("no native compiler builds for this host, using script target", "error", err)
		}
	}

	validated, err := lru.New[string, Descriptor](cfg.DescriptorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating descriptor cache: %w", err)
	}

	return &Provider{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		platform:  platform,
		validated: validated,
		validate:  runVersionCheck,
	}, nil
}

// Platform returns the platform native builds are resolved for.
func (p *Provider) Platform() Platform {
	return p.platform
}

// Resolve returns a validated native compiler for version. It returns
// ErrUnsupportedPlatform when the host has no native channel; Solidity
// callers then use ResolveScript.
func (p *Provider) Resolve(ctx context.Context, lang Language, version string) (*Descriptor, error) {
	if !p.platform.IsNative() {
		return nil, ErrUnsupportedPlatform
	}

	version = NormalizeVersion(version)
	if version == LatestVersion {
		if lang != Solidity {
			return nil, fmt.Errorf("%w: %q is only resolvable for Solidity", ErrUnsupportedLanguage, LatestVersion)
		}
		latest, err := p.latestRelease(ctx, p.platform)
		if err != nil {
			return nil, err
		}
		version = latest
	}

	var (
		fileName  string
		remoteURL string
	)
	switch lang {
	case Solidity:
		fileName = solcFileName(p.platform, version)
		remoteURL = p.solcURL(p.platform, fileName)
	case Vyper:
		name, ok := vyperFileName(p.platform, version)
		if !ok {
			return nil, ErrUnsupportedPlatform
		}
		fileName = name
		remoteURL = p.vyperURL(version, fileName)
	default:
		return nil, ErrUnsupportedLanguage
	}

	localPath := filepath.Join(p.cfg.CacheDir, fileName)
	v, err := p.shared(ctx, localPath, func(ctx context.Context) (any, error) {
		return p.resolveNative(ctx, lang, version, localPath, remoteURL)
	})
	if err != nil {
		metrics.CompilerResolve(string(lang), "failed")
		return nil, err
	}
	desc := v.(Descriptor)
	return &desc, nil
}

func (p *Provider) resolveNative(ctx context.Context, lang Language, version, localPath, remoteURL string) (Descriptor, error) {
	desc := Descriptor{
		Language:  lang,
		Version:   version,
		Platform:  p.platform,
		LocalPath: localPath,
	}

	if cached, ok := p.validated.Get(localPath); ok {
		if _, err := os.Stat(localPath); err == nil {
			metrics.CompilerResolve(string(lang), "cache_hit")
			return cached, nil
		}
		p.validated.Remove(localPath)
	}

	if _, err := os.Stat(localPath); err == nil {
		if err := p.validate(ctx, localPath); err == nil {
			desc.Validated = true
			p.validated.Add(localPath, desc)
			metrics.CompilerResolve(string(lang), "cache_hit")
			p.logger.Debug("using cached compiler", "language", lang, "version", version, "path", localPath)
			return desc, nil
		}
		p.logger.Warn("cached compiler failed self-check, fetching again", "path", localPath)
		if err := os.Remove(localPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return desc, fmt.Errorf("removing invalid compiler: %w", err)
		}
	}

	body, err := p.fetchFollowingRedirect(ctx, remoteURL, func(name string) string {
		if lang == Vyper {
			return p.vyperURL(version, name)
		}
		return p.solcURL(p.platform, name)
	})
	if err != nil {
		return desc, err
	}

	if err := saveExecutable(localPath, body); err != nil {
		return desc, err
	}

	if err := p.validate(ctx, localPath); err != nil {
		_ = os.Remove(localPath)
		return desc, fmt.Errorf("%w: %s: %v", ErrCorruptBinary, localPath, err)
	}

	desc.Validated = true
	p.validated.Add(localPath, desc)
	metrics.CompilerResolve(string(lang), "downloaded")
	p.logger.Info("compiler downloaded", "language", lang, "version", version, "platform", p.platform, "path", localPath)
	return desc, nil
}

// shared runs fn once per key for all concurrent callers. fn gets a
// context detached from the caller that started it, so one caller giving
// up does not fail the others; each caller still returns on its own ctx.
func (p *Provider) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := p.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveScript returns the local path of the portable script build of a
// Solidity version, downloading it when not cached.
func (p *Provider) ResolveScript(ctx context.Context, version string) (string, error) {
	version = NormalizeVersion(version)
	if version == LatestVersion {
		latest, err := p.latestRelease(ctx, PlatformScript)
		if err != nil {
			return "", err
		}
		version = latest
	}

	fileName := soljsonFileName(version)
	localPath := filepath.Join(p.cfg.CacheDir, fileName)

	_, err := p.shared(ctx, localPath, func(ctx context.Context) (any, error) {
		if info, err := os.Stat(localPath); err == nil && info.Size() > 0 {
			metrics.CompilerResolve("soljson", "cache_hit")
			return nil, nil
		}

		body, err := p.fetchFollowingRedirect(ctx, p.solcURL(PlatformScript, fileName), func(name string) string {
			return p.solcURL(PlatformScript, name)
		})
		if err != nil {
			return nil, err
		}
		if err := saveFile(localPath, body, 0o644); err != nil {
			return nil, err
		}
		metrics.CompilerResolve("soljson", "downloaded")
		p.logger.Info("script compiler downloaded", "version", version, "path", localPath)
		return nil, nil
	})
	if err != nil {
		metrics.CompilerResolve("soljson", "failed")
		return "", err
	}
	return localPath, nil
}

// fetchFollowingRedirect downloads remoteURL. When the body is just the
// name of another artifact, that artifact is downloaded instead.
func (p *Provider) fetchFollowingRedirect(ctx context.Context, remoteURL string, urlFor func(name string) string) ([]byte, error) {
	body, err := FetchWithBackoff(ctx, p.client, remoteURL, p.cfg.Backoff)
	if err != nil {
		return nil, err
	}

	if target, ok := redirectTarget(body); ok {
		p.logger.Debug("artifact redirects", "from", remoteURL, "to", target)
		body, err = FetchWithBackoff(ctx, p.client, urlFor(target), p.cfg.Backoff)
		if err != nil {
			return nil, err
		}
		if _, again := redirectTarget(body); again {
			return nil, fmt.Errorf("%w: %s redirects more than once", ErrDownloadFailure, remoteURL)
		}
	}
	return body, nil
}

func redirectTarget(body []byte) (string, bool) {
	if len(body) == 0 || len(body) > maxRedirectBody {
		return "", false
	}
	name := strings.TrimSpace(string(body))
	if !redirectPattern.MatchString(name) {
		return "", false
	}
	return name, true
}

type releaseList struct {
	LatestRelease string            `json:"latestRelease"`
	Releases      map[string]string `json:"releases"`
}

// latestRelease reads the channel's list.json and returns the full
// version (with commit) of its latest release.
func (p *Provider) latestRelease(ctx context.Context, platform Platform) (string, error) {
	body, err := FetchWithBackoff(ctx, p.client, p.solcURL(platform, "list.json"), p.cfg.Backoff)
	if err != nil {
		return "", err
	}
	var list releaseList
	if err := json.Unmarshal(body, &list); err != nil {
		return "", fmt.Errorf("%w: parsing list.json: %v", ErrDownloadFailure, err)
	}
	file, ok := list.Releases[list.LatestRelease]
	if !ok {
		return "", fmt.Errorf("%w: list.json has no entry for latest release %q", ErrDownloadFailure, list.LatestRelease)
	}
	// solc-linux-amd64-v0.8.26+commit.8a97fa7a -> 0.8.26+commit.8a97fa7a
	idx := strings.LastIndex(file, "-v")
	if idx < 0 {
		return "", fmt.Errorf("%w: unexpected release file name %q", ErrDownloadFailure, file)
	}
	version := strings.TrimSuffix(strings.TrimSuffix(file[idx+2:], ".exe"), ".js")
	return version, nil
}

func (p *Provider) solcURL(platform Platform, fileName string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(p.cfg.SolcHost, "/"), platform, url.PathEscape(fileName))
}

func (p *Provider) vyperURL(version, fileName string) string {
	tag := "v" + strings.SplitN(artifactVersion(version), "+", 2)[0]
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(p.cfg.VyperHost, "/"), tag, url.PathEscape(fileName))
}

// saveExecutable replaces path with content and marks it executable.
func saveExecutable(path string, content []byte) error {
	if err := saveFile(path, content, 0o755); err != nil {
		return err
	}
	// WriteFile's mode is filtered by the umask.
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("marking compiler executable: %w", err)
	}
	return nil
}

func saveFile(path string, content []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating compiler cache directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale compiler: %w", err)
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("saving compiler: %w", err)
	}
	return nil
}

// runVersionCheck runs "<path> --version" and fails on spawn errors or a
// non-zero exit.
func runVersionCheck(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, versionCheckTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err == nil {
		return nil
	}
	if detail := strings.TrimSpace(string(out)); detail != "" {
		return fmt.Errorf("%s --version: %w: %s", filepath.Base(path), err, detail)
	}
	return fmt.Errorf("%s --version: %w", filepath.Base(path), err)
}
