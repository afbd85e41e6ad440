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

package health

import (
	"context"

	"github.com/zetherion/zetherion/internal/httpclient"
)

// HTTPModelWarmer keeps models on a local inference server resident by
// enumerating loaded models and sending a minimal generate request per
// model. Works against ollama-compatible endpoints.
type HTTPModelWarmer struct {
	client *httpclient.Client
}

func NewHTTPModelWarmer(baseURL string) *HTTPModelWarmer {
	return &HTTPModelWarmer{client: httpclient.New(baseURL)}
}

type modelList struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (w *HTTPModelWarmer) ListModels(ctx context.Context) ([]string, error) {
	var list modelList
	if err := w.client.GetJSON(ctx, "/api/tags", &list); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (w *HTTPModelWarmer) KeepAlive(ctx context.Context, model string) error {
	// Empty prompt with a keep_alive hint loads the model without
	// generating tokens.
	body := map[string]any{
		"model":      model,
		"prompt":     "",
		"keep_alive": "10m",
	}
	return w.client.PostJSON(ctx, "/api/generate", body, nil)
}
