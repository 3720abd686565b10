package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"docstore/internal/config"
	"docstore/internal/domain"
	models "docstore/internal/domain/models/docstore"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	localPrefix  = "_local/"
	designPrefix = "_design/"
)

// IsLocalID reports whether docID names a non-replicated local document.
func IsLocalID(docID string) bool {
	return strings.HasPrefix(docID, localPrefix)
}

var errReservedID = errors.New("ids starting with '_' are reserved")

func notReservedID(value any) error {
	id, _ := value.(string)
	if IsLocalID(id) {
		return errors.New("local documents are not revisioned")
	}
	if strings.HasPrefix(id, "_") && !strings.HasPrefix(id, designPrefix) {
		return errReservedID
	}
	return nil
}

func wellFormedRevID(value any) error {
	rev, _ := value.(string)
	if rev == "" {
		return nil
	}
	_, _, err := models.ParseRevID(rev)
	return err
}

// validateField runs ozzo rules against one value and reports failures as
// a domain.ValidationError on field.
func validateField(field string, value any, rules ...validation.Rule) error {
	if err := validation.Validate(value, rules...); err != nil {
		return domain.NewValidationError(field, "%s", err.Error())
	}
	return nil
}

func validateDocID(docID string) error {
	return validateField("_id", docID,
		validation.Required,
		validation.Length(1, config.MaxDocumentIDLength),
		validation.By(notReservedID),
	)
}

func validateRevID(field, revID string) error {
	return validateField(field, revID,
		validation.Required,
		validation.Length(1, config.MaxRevisionIDLength),
		validation.By(wellFormedRevID),
	)
}

// normalizeBody checks that body is a JSON object without top-level
// underscore fields. A nil body is stored as {}.
func normalizeBody(body json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return models.EmptyBody, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil || fields == nil {
		return nil, domain.NewValidationError("body", "must be a JSON object")
	}
	for key := range fields {
		if strings.HasPrefix(key, "_") {
			return nil, domain.NewValidationError("body", "field %q is reserved", key)
		}
	}
	return json.RawMessage(trimmed), nil
}

func validateAttachmentNames[T any](atts map[string]T) error {
	for name := range atts {
		if name == "" {
			return domain.NewValidationError("_attachments", "attachment name must not be empty")
		}
	}
	return nil
}

// validateHistory checks a remote history before anything is written: it
// must be non-empty, end with revID and step generations by exactly one.
func validateHistory(revID string, history []string) error {
	if len(history) == 0 {
		return domain.NewValidationError("history", "must not be empty")
	}
	if history[len(history)-1] != revID {
		return domain.NewValidationError("history", "must end with %s, ends with %s", revID, history[len(history)-1])
	}

	prev := 0
	for i, id := range history {
		if err := validateRevID(fmt.Sprintf("history[%d]", i), id); err != nil {
			return err
		}
		gen := models.Generation(id)
		if i > 0 && gen != prev+1 {
			return domain.NewValidationError("history", "generation of %s does not follow %d", id, prev)
		}
		prev = gen
	}
	return nil
}
