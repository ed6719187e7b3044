package appserver

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/Masterminds/semver/v3"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

// BinaryDiscovery carries the knobs that control DiscoverBinary's search.
type BinaryDiscovery struct {
	EnvOverride      string   // $CODEX_APP_SERVER
	BinEnv           string   // $CODEX_BIN
	CommonBinDirs    []string // fixed list of user-local + system bin dirs
	MinVersion       string   // semver constraint, e.g. ">= 1.2.0"; empty skips the check
	VersionProbeArgs []string // args to run the candidate with to print its version, e.g. ["--version"]
}

// DiscoveredBinary is the resolved launch command for the app-server.
type DiscoveredBinary struct {
	Path string
	Args []string // extra args to prepend, e.g. ["app-server"] for the `codex` wrapper case
}

// DiscoverBinary walks the search order from the wire contract:
// (a) $CODEX_APP_SERVER, (b) $CODEX_BIN, (c) PATH lookup for
// codex-app-server, (d) `codex` on PATH + ["app-server"], (e) a fixed
// list of common bin directories. First existing file wins.
func DiscoverBinary(d BinaryDiscovery) (DiscoveredBinary, error) {
	if d.EnvOverride != "" {
		if path := os.Getenv(d.EnvOverride); path != "" {
			if exists(path) {
				return d.finalize(DiscoveredBinary{Path: path})
			}
		}
	}

	if d.BinEnv != "" {
		if path := os.Getenv(d.BinEnv); path != "" {
			if exists(path) {
				return d.finalize(DiscoveredBinary{Path: path})
			}
		}
	}

	if path, err := exec.LookPath("codex-app-server"); err == nil {
		return d.finalize(DiscoveredBinary{Path: path})
	}

	if path, err := exec.LookPath("codex"); err == nil {
		return d.finalize(DiscoveredBinary{Path: path, Args: []string{"app-server"}})
	}

	for _, dir := range d.CommonBinDirs {
		candidate := filepath.Join(dir, "codex-app-server")
		if exists(candidate) {
			return d.finalize(DiscoveredBinary{Path: candidate})
		}
	}

	return DiscoveredBinary{}, errs.New(errs.KindBinaryNotFound, "appserver: no codex-app-server binary found")
}

func (d BinaryDiscovery) finalize(bin DiscoveredBinary) (DiscoveredBinary, error) {
	if d.MinVersion == "" {
		return bin, nil
	}

	constraint, err := semver.NewConstraint(d.MinVersion)
	if err != nil {
		return DiscoveredBinary{}, errs.Wrap(errs.KindInternal, err, "appserver: invalid version constraint")
	}

	args := append(append([]string{}, bin.Args...), d.VersionProbeArgs...)
	out, err := exec.Command(bin.Path, args...).Output()
	if err != nil {
		return DiscoveredBinary{}, errs.Wrap(errs.KindBinaryNotFound, err, "appserver: version probe failed")
	}

	v, err := semver.NewVersion(extractVersionToken(string(out)))
	if err != nil {
		return DiscoveredBinary{}, errs.Wrap(errs.KindBinaryNotFound, err, "appserver: could not parse discovered version")
	}

	if !constraint.Check(v) {
		return DiscoveredBinary{}, errs.Newf(errs.KindBinaryNotFound, "appserver: discovered version %s does not satisfy %s", v, d.MinVersion)
	}

	return bin, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// extractVersionToken pulls the first whitespace-delimited token that
// looks like a semver from free-form `--version` output, e.g.
// "codex-app-server 1.4.2\n" -> "1.4.2".
func extractVersionToken(output string) string {
	var token []byte
	inToken := false
	for i := 0; i < len(output); i++ {
		c := output[i]
		isVersionChar := (c >= '0' && c <= '9') || c == '.' || c == '-'
		if isVersionChar && (c >= '0' && c <= '9') {
			inToken = true
		}
		if inToken {
			if c == ' ' || c == '\n' || c == '\t' {
				break
			}
			token = append(token, c)
		}
	}
	return string(token)
}
