// package formatter renders tracks, qualities and durations for display and exports
// track lists (search results, queues, albums) to CSV, Markdown and plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/queue"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/samber/lo"
)

const (
	qualitySeparator = " · "
	unknownQuality   = "Unknown"
	unknownDuration  = "--:--"
)

// FormatQuality renders the facets a provider reported, e.g. "1411 kbps · 44.1 kHz · 16-bit".
//
// Missing facets are skipped. With no facets the provider label is used, then "Unknown".
func FormatQuality(q models.Quality) string {
	parts := make([]string, 0, 3)
	if q.Bitrate != nil {
		parts = append(parts, fmt.Sprintf("%d kbps", *q.Bitrate))
	}
	if q.SampleRate != nil {
		parts = append(parts, FormatSampleRate(*q.SampleRate))
	}
	if q.BitDepth != nil {
		parts = append(parts, fmt.Sprintf("%d-bit", *q.BitDepth))
	}
	if len(parts) > 0 {
		return strings.Join(parts, qualitySeparator)
	}
	if q.Label != "" {
		return q.Label
	}
	return unknownQuality
}

// FormatSampleRate renders hz in kHz without trailing zeros, e.g. 44100 -> "44.1 kHz", 96000 -> "96 kHz".
func FormatSampleRate(hz int) string {
	return strconv.FormatFloat(float64(hz)/1000, 'f', -1, 64) + " kHz"
}

// FormatDuration renders seconds as m:ss, or h:mm:ss past an hour. Unknown durations render as "--:--".
func FormatDuration(seconds *int) string {
	if seconds == nil || *seconds < 0 {
		return unknownDuration
	}
	s := *seconds
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, (s%3600)/60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// TrackLine renders "Artist - Title (Album) [m:ss]".
func TrackLine(t models.Track) string {
	albumPart := ""
	if t.Album != "" && t.Album != models.UnknownAlbum {
		albumPart = fmt.Sprintf(" (%s)", t.Album)
	}
	return fmt.Sprintf("%s - %s%s [%s]", t.Artist, t.Title, albumPart, FormatDuration(t.Duration))
}

// Export is a titled track list ready to be written out.
type Export struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Source      models.SourceRef `json:"source"`
	CoverURL    string           `json:"cover_url,omitempty"`
	Providers   []string         `json:"providers,omitempty"`
	Tracks      []models.Track   `json:"tracks"`
}

// ExportFromResults builds an export of the tracks of a search.
func ExportFromResults(query string, res *models.SearchResults) *Export {
	return &Export{
		ID:        slug(query),
		Title:     fmt.Sprintf("Search: %s", query),
		Source:    models.SourceRef{Kind: models.SourceSearch, ID: query},
		Providers: lo.Map(res.Providers, func(p models.ProviderID, _ int) string { return p.DisplayName() }),
		Tracks:    res.Tracks,
	}
}

// ExportFromQueue builds an export of a queue in traversal order.
func ExportFromQueue(st queue.State) *Export {
	id := st.ID
	if id == "" {
		id = "queue"
	}
	providers := lo.Uniq(lo.Map(st.Tracks, func(t models.Track, _ int) string { return t.Source.DisplayName() }))
	return &Export{
		ID:        id,
		Title:     fmt.Sprintf("Queue (%s, %s)", st.PlayMode, st.LoopMode),
		Source:    st.Source,
		Providers: providers,
		Tracks:    st.Tracks,
	}
}

// ExportFromAlbum builds an export of an album's tracks.
func ExportFromAlbum(a *models.Album) *Export {
	e := &Export{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Artist,
		Source:      models.SourceRef{Kind: models.SourceAlbum, ID: a.ID, Provider: a.Source},
		Providers:   []string{a.Source.DisplayName()},
		Tracks:      a.Tracks,
	}
	if a.CoverURL != nil {
		e.CoverURL = *a.CoverURL
	}
	return e
}

// ExportToCSV converts an Export to CSV format with columns: Provider, ID, Title, Artist, Album, Duration, Quality
func ExportToCSV(export *Export) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Provider", "ID", "Title", "Artist", "Album", "Duration", "Quality"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range export.Tracks {
		duration := ""
		if track.Duration != nil {
			duration = strconv.Itoa(*track.Duration)
		}
		record := []string{
			string(track.Source),
			track.ID,
			track.Title,
			track.Artist,
			track.Album,
			duration,
			FormatQuality(track.Quality),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts an Export to Markdown format with optional cover image
func ExportToMarkdown(export *Export, imageFilename string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", export.Title)

	if imageFilename != "" {
		fmt.Fprintf(&buf, "![Cover](%s)\n\n", imageFilename)
	}

	if export.Description != "" {
		fmt.Fprintf(&buf, "**Description**: %s\n\n", export.Description)
	}

	fmt.Fprintf(&buf, "**Tracks**: %d\n", len(export.Tracks))
	if len(export.Providers) > 0 {
		fmt.Fprintf(&buf, "**Providers**: %s\n", strings.Join(export.Providers, ", "))
	}
	buf.WriteString("\n## Tracks\n\n")

	for i, track := range export.Tracks {
		fmt.Fprintf(&buf, "%d. %s · %s · %s\n", i+1, TrackLine(track), track.Source.DisplayName(), FormatQuality(track.Quality))
	}

	return buf.Bytes(), nil
}

// ExportToText converts an Export to plain text format
func ExportToText(export *Export) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s\n", export.Title)
	if export.Description != "" {
		fmt.Fprintf(&buf, "Description: %s\n", export.Description)
	}
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(export.Tracks))

	for i, track := range export.Tracks {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, track.Artist, track.Title)
	}

	return buf.Bytes(), nil
}

// Render writes export to w in the named format: csv, markdown, txt or json (default).
func Render(w io.Writer, export *Export, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "csv":
		data, err = ExportToCSV(export)
	case "markdown", "md":
		data, err = ExportToMarkdown(export, "")
	case "txt", "text":
		data, err = ExportToText(export)
	default:
		data, err = shared.MarshalJSON(export, true)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// DownloadImage downloads an image from the given URL and returns the raw bytes
func DownloadImage(url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("empty URL provided")
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return imageData, nil
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	TracksFile   string
	MetadataFile string
}

// WriteCSVExport writes {base}_tracks.csv and {base}_metadata.json. The base defaults to the export ID.
func WriteCSVExport(export *Export, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = export.ID
	}

	csvData, err := ExportToCSV(export)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	tracksFile := baseFilepath + "_tracks.csv"
	if err := os.WriteFile(tracksFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	meta := *export
	meta.Tracks = nil
	metadataJSON, err := shared.MarshalJSON(meta, true)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
	}

	metadataFile := baseFilepath + "_metadata.json"
	if err := os.WriteFile(metadataFile, metadataJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}

	return &CSVExportResult{
		TracksFile:   tracksFile,
		MetadataFile: metadataFile,
	}, nil
}

// MarkdownExportResult contains information about files created by WriteMarkdownExport
type MarkdownExportResult struct {
	Directory  string
	Files      []string
	CoverImage string
}

// WriteMarkdownExport writes {dir}/README.md and, when the export has a cover URL that downloads, {dir}/cover.jpg.
//
// Directory name defaults to the export ID. A failed cover download is not an error.
func WriteMarkdownExport(export *Export, outputDir string) (*MarkdownExportResult, error) {
	if outputDir == "" {
		outputDir = export.ID
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &MarkdownExportResult{
		Directory: outputDir,
		Files:     []string{},
	}

	var coverImageFilename string
	if export.CoverURL != "" {
		if imageData, err := DownloadImage(export.CoverURL); err == nil {
			coverImagePath := filepath.Join(outputDir, "cover.jpg")
			if err := os.WriteFile(coverImagePath, imageData, 0644); err == nil {
				coverImageFilename = "cover.jpg"
				result.CoverImage = coverImagePath
				result.Files = append(result.Files, coverImagePath)
			}
		}
	}

	mdData, err := ExportToMarkdown(export, coverImageFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}

	result.Files = append(result.Files, mdFile)

	return result, nil
}

// WriteTextExport writes the plain text export, defaulting to {export.ID}_tracks.txt.
func WriteTextExport(export *Export, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_tracks.txt", export.ID)
	}

	textData, err := ExportToText(export)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	if err := os.WriteFile(path, textData, 0644); err != nil {
		return "", fmt.Errorf("failed to write text file: %w", err)
	}

	return path, nil
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
	s = strings.Trim(s, "-")
	if s == "" {
		return "export"
	}
	return s
}
