package casestate

// MergeDocuments merges incoming into current and returns the result. For every key
// in incoming: when both sides hold objects the merge recurses, otherwise the incoming
// value replaces the current one. Arrays are replaced whole. Keys missing from incoming
// keep their current value. Neither argument is modified.
func MergeDocuments(current, incoming map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(current)+len(incoming))
	for k, v := range current {
		out[k] = v
	}
	for k, in := range incoming {
		inObj, inIsObj := in.(map[string]interface{})
		curObj, curIsObj := out[k].(map[string]interface{})
		if inIsObj && curIsObj {
			out[k] = MergeDocuments(curObj, inObj)
			continue
		}
		out[k] = in
	}
	return out
}
