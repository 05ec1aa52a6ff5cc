package services

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/saferoam/incident-server/internal/chain"
	"github.com/saferoam/incident-server/internal/models"
)

// MaxEvidenceFileSize caps a single evidence upload at 10 MiB.
const MaxEvidenceFileSize = 10 << 20

// maxPreviewSize caps the inline image preview; larger images store no preview.
const maxPreviewSize = 1 << 20

// Upload is a raw evidence file as received from the picker: bytes plus
// the browser-reported name and MIME type.
type Upload struct {
	Name string
	Type string
	Data []byte
}

// BuildEvidenceFiles hashes a batch of uploads into stored EvidenceFile
// records. Files hash concurrently, but the returned list preserves upload
// order, not hash-completion order. Failures are per-file: a rejected file
// is dropped from the batch and reported in the second return value while
// the rest of the batch survives.
func BuildEvidenceFiles(uploads []Upload) ([]models.EvidenceFile, []*HashError) {
	results := make([]*models.EvidenceFile, len(uploads))
	failures := make([]*HashError, len(uploads))

	var wg sync.WaitGroup
	for i, up := range uploads {
		wg.Add(1)
		go func(i int, up Upload) {
			defer wg.Done()
			f, err := buildEvidenceFile(up)
			if err != nil {
				failures[i] = &HashError{Name: up.Name, Err: err}
				return
			}
			results[i] = f
		}(i, up)
	}
	wg.Wait()

	files := make([]models.EvidenceFile, 0, len(uploads))
	var errs []*HashError
	for i := range uploads {
		if failures[i] != nil {
			errs = append(errs, failures[i])
			continue
		}
		files = append(files, *results[i])
	}
	return files, errs
}

func buildEvidenceFile(up Upload) (*models.EvidenceFile, error) {
	if len(up.Data) == 0 {
		return nil, fmt.Errorf("file is empty")
	}
	if len(up.Data) > MaxEvidenceFileSize {
		return nil, fmt.Errorf("file exceeds %d bytes", MaxEvidenceFileSize)
	}

	f := &models.EvidenceFile{
		ID:   uuid.NewString(),
		Name: up.Name,
		Type: up.Type,
		Size: int64(len(up.Data)),
		Hash: chain.HashFile(up.Data),
	}
	if strings.HasPrefix(up.Type, "image/") && len(up.Data) <= maxPreviewSize {
		f.Preview = "data:" + up.Type + ";base64," + base64.StdEncoding.EncodeToString(up.Data)
	}
	return f, nil
}
