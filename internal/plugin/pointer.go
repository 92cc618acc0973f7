package plugin

import (
	"fmt"
	"strings"

	"github.com/qri-io/jsonpointer"
)

// EvaluatePointer evaluates a JSON Pointer path against data, with support
// for a wildcard extension (*):
// - /list/* extracts matching elements from all array items
// - Wildcards flatten nested arrays when extracting arrays
func EvaluatePointer(data any, path string) (any, error) {
	// Empty path returns the whole document
	if path == "" {
		return data, nil
	}

	if strings.Contains(path, "/*") {
		return evaluateWildcardPointer(data, path)
	}

	ptr, err := jsonpointer.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON Pointer: %w", err)
	}

	result, err := ptr.Eval(data)
	if err != nil {
		return nil, fmt.Errorf("path not found: %s", path)
	}

	// The jsonpointer library returns (nil, nil) for nonexistent paths
	if result == nil {
		return nil, fmt.Errorf("path not found: %s", path)
	}

	return result, nil
}

// evaluateWildcardPointer handles paths containing the wildcard (*) extension
func evaluateWildcardPointer(data any, path string) (any, error) {
	wildcardIdx := strings.Index(path, "/*")
	beforeWildcard := path[:wildcardIdx]
	afterWildcard := path[wildcardIdx+2:]

	arrayData := data
	if beforeWildcard != "" {
		ptr, err := jsonpointer.Parse(beforeWildcard)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON Pointer before wildcard: %w", err)
		}
		arrayData, err = ptr.Eval(data)
		if err != nil || arrayData == nil {
			return nil, fmt.Errorf("path not found before wildcard: %s", beforeWildcard)
		}
	}

	arr, ok := arrayData.([]any)
	if !ok {
		return nil, fmt.Errorf("wildcard requires an array, got %T at path %s", arrayData, beforeWildcard)
	}

	results := make([]any, 0, len(arr))
	for i, item := range arr {
		value := item
		if afterWildcard != "" {
			var err error
			value, err = EvaluatePointer(item, afterWildcard)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate path %s on array element %d: %w", afterWildcard, i, err)
			}
		}

		if valueArr, isArr := value.([]any); isArr {
			results = append(results, valueArr...)
		} else {
			results = append(results, value)
		}
	}

	return results, nil
}
