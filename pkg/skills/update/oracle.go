// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package update

import (
	"context"
	"fmt"
	"strings"

	"github.com/zetherion/zetherion/internal/httpclient"
)

// Release is one published version the oracle knows about.
type Release struct {
	Version string `json:"version"`
	Notes   string `json:"notes,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Oracle answers "what is the latest published release".
type Oracle interface {
	Latest(ctx context.Context) (*Release, error)
}

// HTTPOracle reads the latest release from a GitHub-style releases endpoint.
type HTTPOracle struct {
	client *httpclient.Client
	path   string
}

// NewHTTPOracle points at a releases endpoint, e.g.
// https://api.github.com/repos/OWNER/REPO with path /releases/latest.
func NewHTTPOracle(baseURL, path string) *HTTPOracle {
	if path == "" {
		path = "/releases/latest"
	}
	return &HTTPOracle{client: httpclient.New(baseURL), path: path}
}

// releasePayload accepts both GitHub's tag_name shape and a plain
// {version, notes, url} shape.
type releasePayload struct {
	TagName string `json:"tag_name"`
	Version string `json:"version"`
	Body    string `json:"body"`
	Notes   string `json:"notes"`
	HTMLURL string `json:"html_url"`
	URL     string `json:"url"`
}

func (o *HTTPOracle) Latest(ctx context.Context) (*Release, error) {
	var payload releasePayload
	if err := o.client.GetJSON(ctx, o.path, &payload); err != nil {
		return nil, fmt.Errorf("query release oracle: %w", err)
	}

	version := payload.Version
	if version == "" {
		version = strings.TrimPrefix(payload.TagName, "v")
	}
	if version == "" {
		return nil, fmt.Errorf("release oracle returned no version")
	}

	notes := payload.Notes
	if notes == "" {
		notes = payload.Body
	}
	url := payload.URL
	if url == "" {
		url = payload.HTMLURL
	}
	return &Release{Version: version, Notes: notes, URL: url}, nil
}
