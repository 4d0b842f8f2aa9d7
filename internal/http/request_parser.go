// Package http provides the JSON API server and its handlers.
//
// This file implements request body reading with a size cap and JSON
// shape classification.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// BodyShape is the top-level kind of a JSON request body.
type BodyShape int

const (
	ShapeOther BodyShape = iota
	ShapeObject
	ShapeArray
	ShapeNull
)

// ErrMalformedBody is returned for bodies that are not valid JSON.
var ErrMalformedBody = errors.New("malformed JSON body")

// ErrBodyTooLarge is returned when a body exceeds the configured cap.
var ErrBodyTooLarge = errors.New("request body too large")

// JSONBody is a request body read once and classified by shape.
type JSONBody struct {
	Raw   json.RawMessage
	Shape BodyShape
}

// ReadJSONBody reads at most maxBytes from the request and checks the body
// is a single JSON value.
func ReadJSONBody(w http.ResponseWriter, r *http.Request, maxBytes int64) (JSONBody, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return JSONBody{}, ErrBodyTooLarge
		}
		return JSONBody{}, fmt.Errorf("read body: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		return JSONBody{}, ErrMalformedBody
	}
	return JSONBody{Raw: data, Shape: classify(data)}, nil
}

func classify(data []byte) BodyShape {
	switch data[0] {
	case '{':
		return ShapeObject
	case '[':
		return ShapeArray
	case 'n':
		return ShapeNull
	default:
		return ShapeOther
	}
}

// Elements splits an array body into its raw elements.
func (b JSONBody) Elements() ([]json.RawMessage, error) {
	if b.Shape != ShapeArray {
		return nil, fmt.Errorf("body is not an array")
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(b.Raw, &elems); err != nil {
		return nil, fmt.Errorf("split array body: %w", err)
	}
	return elems, nil
}
