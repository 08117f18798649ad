package partstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateFileSuffix is appended to a source path to name its resume file.
const StateFileSuffix = ".partstream.json"

// resumeFile is persisted next to the source while an upload is open.
type resumeFile struct {
	BaseURL   string    `json:"base_url"`
	UploadID  string    `json:"upload_id"`
	ObjectKey string    `json:"object_key"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
}

// StatePath returns the resume file path for a source file.
func StatePath(path string) string {
	return path + StateFileSuffix
}

// UploadFile uploads the file at path. While the upload is open its session
// is recorded in StatePath(path); a later call for the same unchanged file
// resumes it. The record is removed once the upload completes or the
// session can no longer be resumed.
//
// Example:
//
//	obj, err := client.UploadFile(ctx, "/backups/db.tar", partstream.UploadOptions{
//	    Concurrency: 4,
//	})
func (c *Client) UploadFile(ctx context.Context, path string, opts UploadOptions) (*CompletedObject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, &ValidationError{Field: "path", Message: "must be a regular file"}
	}
	if opts.Filename == "" {
		opts.Filename = filepath.Base(path)
	}

	statePath := StatePath(path)
	if opts.Resume == nil {
		opts.Resume = c.savedSession(ctx, statePath, info)
	}

	record := resumeFile{BaseURL: c.baseURL, Size: info.Size(), ModTime: info.ModTime().UTC()}
	onSession := opts.OnSession
	opts.OnSession = func(s ResumeState) {
		record.UploadID, record.ObjectKey = s.UploadID, s.ObjectKey
		// The returned UploadError still carries the state if this fails.
		_ = writeResumeFile(statePath, record)
		if onSession != nil {
			onSession(s)
		}
	}

	obj, err := c.Upload(ctx, f, info.Size(), opts)
	if err != nil {
		var uerr *UploadError
		if errors.As(err, &uerr) && uerr.Resume.UploadID != "" && !uerr.Resumable() {
			removeResumeFile(statePath)
		}
		return nil, err
	}

	removeResumeFile(statePath)
	return obj, nil
}

// savedSession returns the session recorded for an unchanged file when the
// server still has it open. Stale records are removed.
func (c *Client) savedSession(ctx context.Context, statePath string, info os.FileInfo) *ResumeState {
	rec, err := readResumeFile(statePath)
	if err != nil {
		return nil
	}
	if rec.BaseURL != c.baseURL || rec.Size != info.Size() || !rec.ModTime.Equal(info.ModTime().UTC()) {
		removeResumeFile(statePath)
		return nil
	}

	st, err := c.Status(ctx, rec.UploadID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
			removeResumeFile(statePath)
		}
		return nil
	}
	if st.State != StateOpen {
		removeResumeFile(statePath)
		return nil
	}
	return &ResumeState{UploadID: rec.UploadID, ObjectKey: rec.ObjectKey}
}

func readResumeFile(path string) (*resumeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec resumeFile
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing resume file: %w", err)
	}
	if rec.UploadID == "" {
		return nil, errors.New("resume file has no upload id")
	}
	return &rec, nil
}

// writeResumeFile replaces path atomically.
func writeResumeFile(path string, rec resumeFile) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func removeResumeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "[partstream SDK] WARNING: could not remove %s: %v\n", path, err)
	}
}
