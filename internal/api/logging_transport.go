// Package api holds HTTP plumbing shared by the Telegram client.
package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const redacted = "<redacted>"

// LoggingTransport wraps an http.RoundTripper and appends every Bot API
// exchange to a log file. The bot token, which the Bot API carries in the URL
// path, is masked in everything written.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	mu        sync.Mutex
	writer    *bufio.Writer
	secrets   []string
}

// NewLoggingTransport opens logFilePath for appending. Every non-empty secret
// is replaced with a placeholder before anything reaches the file.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string, secrets ...string) (*LoggingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}

	var kept []string
	for _, s := range secrets {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}

	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
		secrets:   kept,
	}, nil
}

// RoundTrip executes a single HTTP transaction, logging details. Multipart
// uploads are logged without their body.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	withBody := !strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/")
	reqDump, err := httputil.DumpRequestOut(req, withBody)
	if err != nil {
		log.WithError(err).Error("Failed to dump API request for logging")
	} else {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s", startTime.Format(time.RFC3339), string(reqDump)))
	}

	// The transport runs outside the lock; long polls would otherwise block
	// every concurrent send.
	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(startTime)

	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (%s, Duration: %v) ---\n%s", time.Now().Format(time.RFC3339), duration, err.Error()))
		return resp, err
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		respDump, dumpErr := httputil.DumpResponse(resp, false)
		if dumpErr != nil {
			log.WithError(dumpErr).Error("Failed to dump non-JSON response headers for logging")
			t.writeLog(fmt.Sprintf("--- Response Headers (%s, Duration: %v, Type: %s) ---\nStatus: %s", time.Now().Format(time.RFC3339), duration, contentType, resp.Status))
		} else {
			t.writeLog(fmt.Sprintf("--- Response Headers (%s, Duration: %v, Type: %s) ---\n%s\n(Body not logged)", time.Now().Format(time.RFC3339), duration, contentType, string(respDump)))
		}
		return resp, nil
	}

	bodyBytes, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		log.WithError(readErr).Error("Failed to read response body for logging")
		resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		t.writeLog(fmt.Sprintf("--- Response (%s, Duration: %v) ---\nStatus: %s\n(Body read failed)", time.Now().Format(time.RFC3339), duration, resp.Status))
		return resp, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	respDumpHeader, dumpErr := httputil.DumpResponse(resp, false)
	if dumpErr != nil {
		log.WithError(dumpErr).Error("Failed to dump response headers for logging")
		respDumpHeader = []byte("Status: " + resp.Status)
	}
	t.writeLog(fmt.Sprintf("--- Response Headers (%s, Duration: %v) ---\n%s\n--- Response Body (%s) ---\n%s",
		time.Now().Format(time.RFC3339), duration, string(respDumpHeader), contentType, string(bodyBytes)))

	return resp, nil
}

// Redact masks every configured secret in s.
func (t *LoggingTransport) Redact(s string) string {
	for _, secret := range t.secrets {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

// writeLog redacts and writes one entry, flushing immediately.
func (t *LoggingTransport) writeLog(entry string) {
	entry = t.Redact(entry)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.WriteString(entry + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
		return
	}
	if err := t.writer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing API log file: %v\n", err)
	}
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}
