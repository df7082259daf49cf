package api

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
)

const maxFileNameLength = 255

var pdfMagic = []byte("%PDF-")

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrValidation }

// Validator checks uploads before they are fingerprinted and dispatched.
type Validator struct {
	maxBytes    int64
	validatePDF bool
	pdfConfig   *model.Configuration
}

func NewValidator(cfg config.UploadConfig) *Validator {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Validator{
		maxBytes:    cfg.MaxBytes,
		validatePDF: cfg.ValidatePDF,
		pdfConfig:   conf,
	}
}

// MaxBytes is the largest accepted upload.
func (v *Validator) MaxBytes() int64 { return v.maxBytes }

// Upload checks the file name, size and PDF header. With structural
// validation enabled the document must also parse and have at least one
// page.
func (v *Validator) Upload(fileName string, content []byte) error {
	errs := make(map[string]string)

	name := strings.TrimSpace(fileName)
	switch {
	case name == "":
		errs["file_name"] = "file name is required"
	case len(name) > maxFileNameLength:
		errs["file_name"] = fmt.Sprintf("file name must be at most %d characters", maxFileNameLength)
	}

	switch {
	case len(content) == 0:
		errs["file"] = "The submitted file is empty."
	case v.maxBytes > 0 && int64(len(content)) > v.maxBytes:
		errs["file"] = fmt.Sprintf("file must be at most %d bytes", v.maxBytes)
	case !bytes.HasPrefix(content, pdfMagic):
		errs["file"] = "file is not a PDF document"
	case v.validatePDF:
		if msg := v.checkStructure(content); msg != "" {
			errs["file"] = msg
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// FileName checks a replacement file name.
func (v *Validator) FileName(fileName string) error {
	name := strings.TrimSpace(fileName)
	switch {
	case name == "":
		return &ValidationError{Fields: map[string]string{"file_name": "This field may not be blank."}}
	case len(name) > maxFileNameLength:
		return &ValidationError{Fields: map[string]string{
			"file_name": fmt.Sprintf("file name must be at most %d characters", maxFileNameLength),
		}}
	}
	return nil
}

func (v *Validator) checkStructure(content []byte) string {
	pages, err := pdfapi.PageCount(bytes.NewReader(content), v.pdfConfig)
	if err != nil {
		return fmt.Sprintf("file is not a readable PDF: %v", err)
	}
	if pages == 0 {
		return "PDF has no pages"
	}
	return ""
}
