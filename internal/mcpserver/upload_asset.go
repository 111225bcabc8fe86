package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/quire/internal/assets"
	"github.com/starford/quire/internal/noteservice"
	"github.com/starford/quire/internal/parser"
)

const maxAssetSize = 10 << 20 // 10 MB

// Fetcher downloads rawURL and returns its body with the declared media type.
type Fetcher func(ctx context.Context, rawURL string) ([]byte, string, error)

// mediaType is an accepted upload format keyed by stored extension.
type mediaType struct {
	mime  string
	sniff func(head []byte) bool
}

func detects(prefix string) func([]byte) bool {
	return func(head []byte) bool {
		return strings.HasPrefix(http.DetectContentType(head), prefix)
	}
}

func looksLikeSVG(head []byte) bool {
	return bytes.Contains(head[:min(len(head), 1024)], []byte("<svg"))
}

var (
	mediaTypes = map[string]mediaType{
		"png":  {"image/png", detects("image/png")},
		"jpg":  {"image/jpeg", detects("image/jpeg")},
		"jpeg": {"image/jpeg", detects("image/jpeg")},
		"gif":  {"image/gif", detects("image/gif")},
		"webp": {"image/webp", detects("image/webp")},
		"svg":  {"image/svg+xml", looksLikeSVG},
		"pdf":  {"application/pdf", detects("application/pdf")},
		"mp3":  {"audio/mpeg", detects("audio/mpeg")},
		"wav":  {"audio/wav", detects("audio/wave")},
	}

	safeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

	errUnsupportedDataURI = errors.New("only base64 data URIs are supported")
)

// source is an upload before validation.
type source struct {
	data []byte
	mime string // declared by the data URI or the server, may be empty
	name string // last URL path segment, may be empty
}

type uploadResult struct {
	*noteservice.Upload
	Markup string `json:"markup"`
}

func (s *Server) uploadAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	src, err := s.load(ctx, rawURL)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(src.data) > maxAssetSize {
		return mcp.NewToolResultError(fmt.Sprintf("file too large: %d bytes (max %d)", len(src.data), maxAssetSize)), nil
	}

	filename := req.GetString("filename", src.name)
	ext := assets.ExtensionFor(filename, src.mime)
	mt, ok := mediaTypes[ext]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported file type %q (allowed: %s)", ext, allowedList())), nil
	}
	if !mt.sniff(src.data) {
		return mcp.NewToolResultError(fmt.Sprintf("content is not %s (detected %s)", mt.mime, http.DetectContentType(src.data))), nil
	}
	filename = cleanFilename(filename, ext)

	up, err := s.svc.UploadAsset(ctx, optionalID(req, "note_id"), src.data, filename, mt.mime)
	if err != nil {
		return s.toolError("upload_asset", err), nil
	}
	s.logger.Info("asset uploaded", slog.String("hash", up.Hash), slog.String("filename", up.Filename))
	return jsonResult(uploadResult{Upload: up, Markup: markupFor(up)})
}

// load reads a data URI inline or downloads anything else.
func (s *Server) load(ctx context.Context, rawURL string) (source, error) {
	if rest, ok := strings.CutPrefix(rawURL, "data:"); ok {
		return parseDataURI(rest)
	}
	data, mime, err := s.fetch(ctx, rawURL)
	if err != nil {
		return source{}, err
	}
	src := source{data: data, mime: mime}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); strings.Contains(base, ".") {
			src.name = base
		}
	}
	return src, nil
}

// parseDataURI decodes the part of a data URI after "data:".
func parseDataURI(rest string) (source, error) {
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return source{}, errors.New("invalid data URI: missing comma separator")
	}
	meta, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return source{}, errUnsupportedDataURI
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
			return source{}, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	mime, _, _ := strings.Cut(meta, ";")
	return source{data: data, mime: mime}, nil
}

// cleanFilename strips directories and unsafe characters, inventing a name
// when nothing usable is left.
func cleanFilename(name, ext string) string {
	name = safeFilenameRe.ReplaceAllString(filepath.Base(name), "_")
	if strings.Trim(name, "._") == "" {
		return "asset-" + uuid.NewString()[:8] + "." + ext
	}
	return name
}

func allowedList() string {
	return "png, jpg, jpeg, gif, webp, svg, pdf, mp3, wav"
}

// markupFor returns the storage-form element referencing an uploaded asset.
func markupFor(up *noteservice.Upload) string {
	if strings.HasPrefix(up.Mime, "image/") {
		return `<img src="` + parser.EscapeAttr(up.Ref) + `" alt="` + parser.EscapeAttr(up.Filename) + `"/>`
	}
	return `<a href="` + parser.EscapeAttr(up.Ref) + `">` + parser.EscapeText(up.Filename) + `</a>`
}

var fetchClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
			Control: refuseLocal,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	},
	CheckRedirect: func(_ *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("too many redirects (max 5)")
		}
		return nil
	},
}

// refuseLocal runs after DNS resolution, so redirects and rebinding cannot
// reach loopback, link-local (cloud metadata) or unspecified addresses.
func refuseLocal(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("blocked address %s", host)
	}
	return nil
}

// fetchHTTP downloads an http(s) URL with fetchClient.
func fetchHTTP(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme %q (only http/https and data:)", u.Scheme)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxAssetSize {
		return nil, "", fmt.Errorf("file too large: exceeds %d bytes", maxAssetSize)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
