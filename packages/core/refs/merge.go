package refs

import (
	"fmt"
	"strconv"

	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
)

// Merge deep-merges overlay onto base and returns a new tree; neither input is
// modified. Mappings merge key by key, null on either side yields the other
// side, equal scalars are kept and sequences concatenate when mergeLists is
// set. Anything else is a conflict.
func Merge(base, overlay any, mergeLists bool) (any, error) {
	return merge(base, overlay, mergeLists, "")
}

func merge(base, overlay any, mergeLists bool, path string) (any, error) {
	if overlay == nil {
		return document.Clone(base), nil
	}
	if base == nil {
		return document.Clone(overlay), nil
	}

	switch b := base.(type) {
	case map[string]any:
		o, ok := overlay.(map[string]any)
		if !ok {
			return nil, conflict(base, overlay, path)
		}
		out := make(map[string]any, len(b)+len(o))
		for k, v := range b {
			out[k] = document.Clone(v)
		}
		for _, k := range document.SortedKeys(o) {
			ov := o[k]
			bv, exists := out[k]
			if !exists {
				out[k] = document.Clone(ov)
				continue
			}
			merged, err := merge(bv, ov, mergeLists, path+"/"+escapeToken(k))
			if err != nil {
				return nil, err
			}
			out[k] = merged
		}
		return out, nil

	case []any:
		o, ok := overlay.([]any)
		if !ok || !mergeLists {
			return nil, conflict(base, overlay, path)
		}
		out := make([]any, 0, len(b)+len(o))
		for _, v := range b {
			out = append(out, document.Clone(v))
		}
		for _, v := range o {
			out = append(out, document.Clone(v))
		}
		return out, nil
	}

	if document.Equal(base, overlay) {
		return base, nil
	}
	return nil, conflict(base, overlay, path)
}

func conflict(base, overlay any, path string) error {
	return &Error{
		Kind: KindMergeConflict,
		Path: path,
		Msg: fmt.Sprintf("cannot merge %s %s onto %s %s",
			document.TypeName(overlay), short(overlay), document.TypeName(base), short(base)),
	}
}

func short(v any) string {
	switch t := v.(type) {
	case map[string]any:
		return "{...}"
	case []any:
		return "[" + strconv.Itoa(len(t)) + " items]"
	case string:
		return strconv.Quote(t)
	default:
		return fmt.Sprint(v)
	}
}
