package extraction

import "fmt"

// Strategy combines extraction payloads into merged data.
type Strategy string

const (
	// Shallow lets later top-level keys overwrite earlier ones.
	Shallow Strategy = "shallow"
	// Deep merges maps recursively and concatenates arrays.
	Deep Strategy = "deep"
)

// ParseStrategy validates a strategy name, "" selects Shallow.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case "", Shallow:
		return Shallow, nil
	case Deep:
		return Deep, nil
	default:
		return "", fmt.Errorf("unknown merge strategy '%s'", name)
	}
}

// Merge folds payloads left to right under strategy. Inputs are never mutated.
func Merge(strategy Strategy, payloads ...map[string]any) map[string]any {
	result := make(map[string]any)
	for _, payload := range payloads {
		switch strategy {
		case Deep:
			deepMerge(result, payload)
		default:
			for k, v := range payload {
				result[k] = deepCopy(v)
			}
		}
	}

	return result
}

func deepMerge(dst, src map[string]any) {
	for key, incoming := range src {
		existing, exists := dst[key]
		if !exists {
			dst[key] = deepCopy(incoming)
			continue
		}

		switch in := incoming.(type) {
		case map[string]any:
			if cur, ok := existing.(map[string]any); ok {
				deepMerge(cur, in)
				continue
			}
		case []any:
			if cur, ok := existing.([]any); ok {
				merged := make([]any, 0, len(cur)+len(in))
				merged = append(merged, cur...)
				for _, v := range in {
					merged = append(merged, deepCopy(v))
				}
				dst[key] = merged
				continue
			}
		}

		dst[key] = deepCopy(incoming)
	}
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = deepCopy(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = deepCopy(v)
		}
		return result
	default:
		return v
	}
}
