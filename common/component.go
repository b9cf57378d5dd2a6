// Copyright 2025-2026 The bloodlink Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"context"
	"fmt"

	"github.com/apex/log"
)

// Component base structure for a system component
type Component struct {
	LogTags log.Fields
}

// RequestParam is a helper object for logging a request's parameters into its context
type RequestParam struct {
	// ID is the request ID
	ID string `json:"id"`
	// Method is the request method: DELETE, POST, PUT, GET, etc.
	Method string `json:"method"`
	// URI is the request URI
	URI string `json:"uri"`
}

// updateLogTags updates Apex log.Fields map with values from the request's parameters
func (i *RequestParam) updateLogTags(tags log.Fields) {
	tags["request_id"] = i.ID
	tags["request_method"] = i.Method
	tags["request_uri"] = fmt.Sprintf("'%s'", i.URI)
}

// UpdateLogTags returns a new Apex log.Fields merging the component's base fields
// with request parameters carried by the context
func UpdateLogTags(ctxt context.Context, original log.Fields) log.Fields {
	result := log.Fields{}
	for key, value := range original {
		result[key] = value
	}
	if param, ok := ctxt.Value(RequestParam{}).(RequestParam); ok {
		param.updateLogTags(result)
	}
	return result
}
