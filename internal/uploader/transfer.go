package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
)

// DefaultChunkSize matches the server's preferred chunk size.
const DefaultChunkSize = 5 << 20

// ProgressEvent reports confirmed bytes after every accepted chunk.
type ProgressEvent struct {
	UploadID   string `json:"upload_id"`
	BytesSent  int64  `json:"bytes_sent"`
	BytesTotal int64  `json:"bytes_total"`
}

// InterruptedError means the transfer stopped mid-file. Offset is the last
// byte count the server confirmed; resume re-probes the server rather than
// trusting this value.
type InterruptedError struct {
	Offset int64
	Err    error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("upload interrupted at offset %d: %v", e.Offset, e.Err)
}

func (e *InterruptedError) Unwrap() error { return e.Err }

// ErrAborted is what SendFrom wraps in an InterruptedError when Abort was
// called between chunks.
var ErrAborted = errors.New("upload aborted")

// Transfer pushes one local file to the ingestion API in fixed-size chunks.
// Offset accounting is server-owned: the transfer only ever advances to the
// offset echoed back in the Upload-Offset response header, and never reports
// completion unless the server accepted the final chunk.
type Transfer struct {
	client    *http.Client
	baseURL   string
	token     string
	chunkSize int64

	uploadID   string
	sourcePath string
	totalBytes int64

	mu        sync.Mutex
	offset    int64
	aborted   bool
	progress  chan ProgressEvent
	closeOnce sync.Once
}

func NewTransfer(client *http.Client, baseURL, token string, chunkSize int64) *Transfer {
	if client == nil {
		client = http.DefaultClient
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Transfer{
		client:    client,
		baseURL:   baseURL,
		token:     token,
		chunkSize: chunkSize,
		progress:  make(chan ProgressEvent, 16),
	}
}

// Progress is the per-chunk confirmation feed. Events are dropped, not
// blocked on, when the consumer falls behind.
func (t *Transfer) Progress() <-chan ProgressEvent { return t.progress }

// CurrentOffset returns the last server-confirmed offset.
func (t *Transfer) CurrentOffset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Close ends the progress feed once the transfer will send no more chunks.
func (t *Transfer) Close() {
	t.closeOnce.Do(func() { close(t.progress) })
}

// Abort stops the transfer at the next chunk boundary. The in-flight chunk
// finishes; nothing already confirmed is lost.
func (t *Transfer) Abort() {
	t.mu.Lock()
	t.aborted = true
	t.mu.Unlock()
}

// Open registers the upload session with the server. The upload id is chosen
// by the caller so a restarted client can adopt its previous session.
func (t *Transfer) Open(ctx context.Context, uploadID, sourcePath, fileName string, totalBytes int64) error {
	body, err := json.Marshal(&models.CreateUploadInput{
		UploadID:   uploadID,
		FileName:   fileName,
		TotalBytes: totalBytes,
	})
	if err != nil {
		return errors.Wrap(err, "Transfer.Open.Marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/v1/uploads", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "Transfer.Open.NewRequest")
	}
	req.Header.Set("Content-Type", "application/json")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return &InterruptedError{Offset: 0, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return errors.Errorf("Transfer.Open: server returned %d", resp.StatusCode)
	}

	session := &models.UploadSession{}
	if err = json.NewDecoder(resp.Body).Decode(session); err != nil {
		return errors.Wrap(err, "Transfer.Open.Decode")
	}

	t.mu.Lock()
	t.uploadID = session.UploadID
	t.sourcePath = sourcePath
	t.totalBytes = totalBytes
	t.offset = session.ReceivedBytes
	t.aborted = false
	t.mu.Unlock()
	return nil
}

// probeOffset asks the server for the confirmed offset of this session.
func (t *Transfer) probeOffset(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.uploadURL(), nil)
	if err != nil {
		return 0, errors.Wrap(err, "Transfer.probeOffset.NewRequest")
	}
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, &InterruptedError{Offset: t.CurrentOffset(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("Transfer.probeOffset: server returned %d", resp.StatusCode)
	}

	offset, err := strconv.ParseInt(resp.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "Transfer.probeOffset.ParseOffset")
	}
	return offset, nil
}

// SendFrom streams chunks until the file is fully confirmed or the transfer
// is interrupted. It ignores the caller's idea of the offset and always
// resumes from what the server reports. On the final accepted chunk it
// returns the id of the video record the server created.
func (t *Transfer) SendFrom(ctx context.Context) (string, error) {
	offset, err := t.probeOffset(ctx)
	if err != nil {
		return "", err
	}
	t.setOffset(offset)

	file, err := os.Open(t.sourcePath)
	if err != nil {
		return "", errors.Wrap(err, "Transfer.SendFrom.Open")
	}
	defer file.Close()

	buf := make([]byte, t.chunkSize)
	for {
		t.mu.Lock()
		offset, aborted := t.offset, t.aborted
		t.mu.Unlock()
		if aborted {
			return "", &InterruptedError{Offset: offset, Err: ErrAborted}
		}
		if offset > t.totalBytes {
			return "", errors.Errorf("Transfer.SendFrom: server offset %d past total %d", offset, t.totalBytes)
		}

		n, err := file.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return "", &InterruptedError{Offset: offset, Err: err}
		}
		if n == 0 {
			// Nothing left to send but the server never confirmed the
			// full size.
			return "", &InterruptedError{Offset: offset, Err: errors.New("source file shorter than declared total")}
		}

		videoID, confirmed, err := t.sendChunk(ctx, offset, buf[:n])
		if err != nil {
			return "", err
		}
		t.setOffset(confirmed)
		t.emit(confirmed)

		if videoID != "" {
			return videoID, nil
		}
		if confirmed >= t.totalBytes {
			return "", &InterruptedError{Offset: confirmed, Err: errors.New("server confirmed all bytes without completing the upload")}
		}
	}
}

// sendChunk PATCHes one chunk. A 409 means the server's confirmed offset
// moved; the caller retries from the offset in the response header.
func (t *Transfer) sendChunk(ctx context.Context, offset int64, chunk []byte) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, t.uploadURL(), bytes.NewReader(chunk))
	if err != nil {
		return "", 0, errors.Wrap(err, "Transfer.sendChunk.NewRequest")
	}
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", 0, &InterruptedError{Offset: offset, Err: err}
	}
	defer resp.Body.Close()

	confirmed, parseErr := strconv.ParseInt(resp.Header.Get("Upload-Offset"), 10, 64)

	switch resp.StatusCode {
	case http.StatusNoContent:
		if parseErr != nil {
			return "", 0, errors.Wrap(parseErr, "Transfer.sendChunk.ParseOffset")
		}
		return "", confirmed, nil
	case http.StatusCreated:
		complete := &models.UploadCompleteResponse{}
		if err = json.NewDecoder(resp.Body).Decode(complete); err != nil {
			return "", 0, errors.Wrap(err, "Transfer.sendChunk.Decode")
		}
		return complete.VideoID, t.totalBytes, nil
	case http.StatusConflict:
		if parseErr != nil {
			return "", 0, errors.Wrap(parseErr, "Transfer.sendChunk.ParseOffset")
		}
		// Offset disagreement, adopt the server's view and go on.
		return "", confirmed, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err = errors.Errorf("Transfer.sendChunk: server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		if resp.StatusCode >= http.StatusInternalServerError {
			return "", 0, &InterruptedError{Offset: offset, Err: err}
		}
		return "", 0, err
	}
}

func (t *Transfer) uploadURL() string {
	return t.baseURL + "/api/v1/uploads/" + t.uploadID
}

func (t *Transfer) authorize(req *http.Request) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
}

func (t *Transfer) setOffset(offset int64) {
	t.mu.Lock()
	if offset > t.offset {
		t.offset = offset
	}
	t.mu.Unlock()
}

func (t *Transfer) emit(confirmed int64) {
	ev := ProgressEvent{UploadID: t.uploadID, BytesSent: confirmed, BytesTotal: t.totalBytes}
	select {
	case t.progress <- ev:
	default:
	}
}
