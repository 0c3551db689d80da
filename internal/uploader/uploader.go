// Package uploader implements the dedup upload protocol for question
// packages and avatar images: hash locally, ask the server whether it
// already holds the content, and only transfer bytes on a miss.
package uploader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ContentKey identifies one piece of content for dedup purposes. Created
// once per upload attempt, never mutated.
type ContentKey struct {
	Name string
	Hash string
	ID   string
}

// RejectedError is a server-side refusal with a typed reason, e.g. a
// package failing the size or validity check. Not retryable without
// changing the content.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// Progress reports bytes sent out of total during a transfer.
type Progress func(sent, total int64)

type Uploader struct {
	base   string
	client *http.Client
	log    *zap.Logger
}

func New(baseURL string, client *http.Client, log *zap.Logger) *Uploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Uploader{base: baseURL, client: client, log: log}
}

type checkRequest struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

type checkResponse struct {
	Exists bool   `json:"exists"`
	ID     string `json:"id"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

type rejectBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EnsureUploaded returns a key for the content, transferring bytes only
// when the server does not already hold a match for (name, hash).
func (u *Uploader) EnsureUploaded(ctx context.Context, content []byte, name string, progress Progress) (ContentKey, error) {
	sum := sha256.Sum256(content)
	key := ContentKey{Name: name, Hash: base64.StdEncoding.EncodeToString(sum[:])}

	exists, id, err := u.check(ctx, key)
	if err != nil {
		return ContentKey{}, err
	}
	if exists {
		u.log.Debug("content already on server",
			zap.String("name", name), zap.String("id", id))
		key.ID = id
		if progress != nil {
			progress(int64(len(content)), int64(len(content)))
		}
		return key, nil
	}

	id, err = u.upload(ctx, key, content, progress)
	if err != nil {
		return ContentKey{}, err
	}
	key.ID = id
	return key, nil
}

// UploadPackage ships a question package; the server may reject it with a
// typed reason after its size/validity check.
func (u *Uploader) UploadPackage(ctx context.Context, pkg []byte, name string, progress Progress) (ContentKey, error) {
	return u.EnsureUploaded(ctx, pkg, name, progress)
}

// UploadAvatar ships an avatar image, keyed by filename plus hash.
func (u *Uploader) UploadAvatar(ctx context.Context, img []byte, filename string) (ContentKey, error) {
	return u.EnsureUploaded(ctx, img, filename, nil)
}

// UploadAll pushes a package and an avatar concurrently.
func (u *Uploader) UploadAll(ctx context.Context, pkg []byte, pkgName string, avatar []byte, avatarName string, progress Progress) (ContentKey, ContentKey, error) {
	var pkgKey, avatarKey ContentKey
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pkgKey, err = u.UploadPackage(ctx, pkg, pkgName, progress)
		return err
	})
	g.Go(func() error {
		var err error
		avatarKey, err = u.UploadAvatar(ctx, avatar, avatarName)
		return err
	})
	if err := g.Wait(); err != nil {
		return ContentKey{}, ContentKey{}, err
	}
	return pkgKey, avatarKey, nil
}

func (u *Uploader) check(ctx context.Context, key ContentKey) (bool, string, error) {
	body, _ := json.Marshal(checkRequest{Name: key.Name, Hash: key.Hash})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.base+"/check", bytes.NewReader(body))
	if err != nil {
		return false, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("hash check: unexpected status %d", resp.StatusCode)
	}
	var cr checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return false, "", err
	}
	return cr.Exists, cr.ID, nil
}

func (u *Uploader) upload(ctx context.Context, key ContentKey, content []byte, progress Progress) (string, error) {
	total := int64(len(content))
	var body io.Reader = bytes.NewReader(content)
	if progress != nil {
		body = &progressReader{r: body, total: total, report: progress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.base+"/upload", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Content-Name", key.Name)
	req.Header.Set("X-Content-Hash", key.Hash)
	req.ContentLength = total

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var rb rejectBody
		if derr := json.NewDecoder(resp.Body).Decode(&rb); derr == nil && rb.Code != "" {
			return "", &RejectedError{Code: rb.Code, Message: rb.Message}
		}
		return "", fmt.Errorf("upload rejected: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload: unexpected status %d", resp.StatusCode)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", err
	}
	u.log.Info("content uploaded",
		zap.String("name", key.Name), zap.String("id", ur.ID), zap.Int64("bytes", total))
	return ur.ID, nil
}

type progressReader struct {
	r      io.Reader
	sent   int64
	total  int64
	report Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.report(p.sent, p.total)
	}
	return n, err
}
