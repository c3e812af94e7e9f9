// Package export produces evidence bundles: zip archives of approval
// records with a checksummed manifest, suitable for handing to an
// auditor or attaching to an incident review.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/promptdeck/agentgate/pkg/approvals"
)

// FormatVersion is stamped into every manifest. Readers accept any
// bundle within formatRange; a major bump breaks compatibility.
const FormatVersion = "1.0.0"

const formatRange = "^1.0"

var (
	// ErrInvalidTimeRange is returned when the window start is after its end.
	ErrInvalidTimeRange = errors.New("export: since must be before until")
	// ErrSourceNotConfigured is returned when a bundler has no row source.
	ErrSourceNotConfigured = errors.New("export: row source not configured (fail-closed)")
)

// RowSource supplies the approval rows to bundle. Stores satisfy it.
type RowSource interface {
	ListApprovalsForExport(ctx context.Context, sessionID string) ([]approvals.Pair, error)
}

// Request defines what to export. A zero SessionID exports every
// session; zero times leave that side of the window open.
type Request struct {
	SessionID string    `json:"session_id,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	Until     time.Time `json:"until,omitempty"`
}

// Manifest describes a bundle's contents. Checksums maps each archived
// file name to its hex SHA-256.
type Manifest struct {
	FormatVersion string            `json:"format_version"`
	GeneratedAt   time.Time         `json:"generated_at"`
	SessionID     string            `json:"session_id,omitempty"`
	RowCount      int               `json:"row_count"`
	PeriodStart   time.Time         `json:"period_start,omitempty"`
	PeriodEnd     time.Time         `json:"period_end,omitempty"`
	Checksums     map[string]string `json:"checksums"`
}

// Bundler assembles evidence bundles from a row source.
type Bundler struct {
	source RowSource
	clock  func() time.Time
	logger *slog.Logger
}

// NewBundler returns a Bundler reading from source.
func NewBundler(source RowSource) *Bundler {
	return &Bundler{
		source: source,
		clock:  time.Now,
		logger: slog.With("component", "export"),
	}
}

// WithClock overrides the time source. Used by tests.
func (b *Bundler) WithClock(clock func() time.Time) *Bundler {
	b.clock = clock
	return b
}

// WithLogger overrides the default logger.
func (b *Bundler) WithLogger(logger *slog.Logger) *Bundler {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Bundle builds a zip archive for the request and returns the archive
// bytes together with the hex SHA-256 of the whole archive.
func (b *Bundler) Bundle(ctx context.Context, req Request) ([]byte, string, error) {
	if !req.Since.IsZero() && !req.Until.IsZero() && req.Since.After(req.Until) {
		return nil, "", ErrInvalidTimeRange
	}
	if b.source == nil {
		return nil, "", ErrSourceNotConfigured
	}

	pairs, err := b.source.ListApprovalsForExport(ctx, req.SessionID)
	if err != nil {
		return nil, "", fmt.Errorf("export: listing approvals: %w", err)
	}
	rows := filterWindow(pairs, req.Since, req.Until)

	rowsJSON, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("export: encoding rows: %w", err)
	}

	now := b.clock().UTC()
	readme := fmt.Sprintf("Evidence bundle for agent tool approvals\nGenerated at %s\nRows: %d\nFormat: %s\n",
		now.Format(time.RFC3339), len(rows), FormatVersion)

	manifest := Manifest{
		FormatVersion: FormatVersion,
		GeneratedAt:   now,
		SessionID:     req.SessionID,
		RowCount:      len(rows),
		PeriodStart:   req.Since,
		PeriodEnd:     req.Until,
		Checksums: map[string]string{
			"approvals.json": hexSum(rowsJSON),
			"README.txt":     hexSum([]byte(readme)),
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("export: encoding manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{"approvals.json", rowsJSON},
		{"manifest.json", manifestJSON},
		{"README.txt", []byte(readme)},
	} {
		f, err := w.Create(entry.name)
		if err != nil {
			return nil, "", fmt.Errorf("export: creating %s: %w", entry.name, err)
		}
		if _, err := f.Write(entry.data); err != nil {
			return nil, "", fmt.Errorf("export: writing %s: %w", entry.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("export: closing archive: %w", err)
	}

	zipBytes := buf.Bytes()
	checksum := hexSum(zipBytes)
	b.logger.Info("bundle generated",
		"session_id", req.SessionID, "rows", len(rows), "bytes", len(zipBytes), "checksum", checksum)
	return zipBytes, checksum, nil
}

// BundleName returns a collision-free archive name for a bundle
// generated at t.
func BundleName(sessionID string, t time.Time) string {
	stamp := t.UTC().Format("20060102T150405Z")
	if sessionID == "" {
		return "agentgate-evidence-" + stamp + ".zip"
	}
	return "agentgate-evidence-" + sessionID + "-" + stamp + ".zip"
}

// CheckFormatVersion reports whether a manifest's format version is one
// this reader understands.
func CheckFormatVersion(version string) error {
	constraint, err := semver.NewConstraint(formatRange)
	if err != nil {
		return fmt.Errorf("export: bad format range %q: %w", formatRange, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("export: invalid format version %q: %w", version, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("export: format version %s is outside supported range %s", version, formatRange)
	}
	return nil
}

// VerifyBundle opens an archive, validates its format version and
// re-computes every checksum the manifest names. It returns the parsed
// manifest on success.
func VerifyBundle(data []byte) (*Manifest, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("export: opening archive: %w", err)
	}

	files := make(map[string][]byte, len(zr.File))
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("export: opening %s: %w", zf.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("export: reading %s: %w", zf.Name, err)
		}
		files[zf.Name] = content
	}

	manifestJSON, ok := files["manifest.json"]
	if !ok {
		return nil, errors.New("export: archive has no manifest.json")
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return nil, fmt.Errorf("export: decoding manifest: %w", err)
	}
	if err := CheckFormatVersion(manifest.FormatVersion); err != nil {
		return nil, err
	}

	for name, want := range manifest.Checksums {
		content, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("export: manifest names %s but the archive lacks it", name)
		}
		if got := hexSum(content); got != want {
			return nil, fmt.Errorf("export: checksum mismatch for %s", name)
		}
	}
	return &manifest, nil
}

func filterWindow(pairs []approvals.Pair, since, until time.Time) []approvals.Pair {
	rows := make([]approvals.Pair, 0, len(pairs))
	for _, p := range pairs {
		if p.Approval == nil {
			continue
		}
		if !since.IsZero() && p.Approval.CreatedAt.Before(since) {
			continue
		}
		if !until.IsZero() && p.Approval.CreatedAt.After(until) {
			continue
		}
		rows = append(rows, p)
	}
	return rows
}

func hexSum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
