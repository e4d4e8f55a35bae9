// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package normalize implements the normalize stage's concurrent schema
// reconciliation engine: grouping extracted files across a worker pool,
// running item normalizers against each group, merging the schema deltas
// they propose, and committing the resulting load package.
package normalize

import (
	"fmt"
	"strings"
)

// ParseFileName splits an extracted item file's base name of the form
// <table>.<job_id>.<format> into its three parts.
func ParseFileName(name string) (table, jobID, format string, err error) {
	parts := strings.Split(name, ".")
	if len(parts) < 3 {
		return "", "", "", fmt.Errorf("normalize: malformed item file name %q", name)
	}
	format = parts[len(parts)-1]
	jobID = parts[len(parts)-2]
	table = strings.Join(parts[:len(parts)-2], ".")
	if table == "" {
		return "", "", "", fmt.Errorf("normalize: malformed item file name %q", name)
	}
	return table, jobID, format, nil
}
