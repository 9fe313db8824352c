package request

import (
	"github.com/m365proxy/m365proxy/internal/apierr"
	"github.com/m365proxy/m365proxy/internal/jsonval"
)

// applyToolingAndFormat normalizes tools/tool_choice/response_format onto cr
// per spec.md §4.1's tooling normalization rules.
func applyToolingAndFormat(cr *CanonicalRequest, raw map[string]interface{}) error {
	tools := normalizeTools(raw)
	mode, fnName := normalizeToolChoice(raw, len(tools) > 0)

	if len(tools) == 0 && (mode == ToolChoiceRequired || mode == ToolChoiceFunction) {
		return apierr.New(apierr.InvalidToolOutput, "tool_choice requires a tool but no tools were declared")
	}

	cr.Tooling = Tooling{
		Tools:                  tools,
		ToolChoiceMode:         mode,
		ToolChoiceFunctionName: fnName,
		ParallelToolCalls:      parallelToolCalls(raw),
	}

	if rf, ok := jsonval.TryGetObject(raw, "response_format"); ok {
		cr.ResponseFormat = normalizeResponseFormat(rf)
	}
	return nil
}

func normalizeTools(raw map[string]interface{}) []ToolDef {
	rawTools, ok := jsonval.TryGetArray(raw, "tools")
	if !ok {
		return nil
	}
	var out []ToolDef
	for _, t := range rawTools {
		obj, ok := jsonval.AsObject(t)
		if !ok {
			continue
		}
		if jsonval.GetString(obj, "type", "") != "function" {
			continue
		}
		fn, ok := jsonval.TryGetObject(obj, "function")
		if !ok {
			// Some callers flatten {type:function, name, parameters} without
			// a nested "function" object; tolerate both shapes.
			fn = obj
		}
		name := jsonval.GetString(fn, "name", "")
		if name == "" {
			continue
		}
		params, ok := jsonval.TryGetObject(fn, "parameters")
		if !ok {
			params = map[string]interface{}{}
		}
		out = append(out, ToolDef{
			Name:        name,
			Description: jsonval.GetString(fn, "description", ""),
			Parameters:  params,
		})
	}
	return out
}

func normalizeToolChoice(raw map[string]interface{}, hasTools bool) (ToolChoiceMode, string) {
	tc, present := raw["tool_choice"]
	if !present {
		if hasTools {
			return ToolChoiceAuto, ""
		}
		return ToolChoiceNone, ""
	}

	switch v := tc.(type) {
	case string:
		switch v {
		case "auto":
			return ToolChoiceAuto, ""
		case "none":
			return ToolChoiceNone, ""
		case "required":
			return ToolChoiceRequired, ""
		default:
			return ToolChoiceAuto, ""
		}
	case map[string]interface{}:
		if jsonval.GetString(v, "type", "") == "function" {
			if fn, ok := jsonval.TryGetObject(v, "function"); ok {
				name := jsonval.GetString(fn, "name", "")
				if name != "" {
					return ToolChoiceFunction, name
				}
			}
		}
		return ToolChoiceAuto, ""
	default:
		if hasTools {
			return ToolChoiceAuto, ""
		}
		return ToolChoiceNone, ""
	}
}

func parallelToolCalls(raw map[string]interface{}) bool {
	if b, ok := jsonval.TryGetBool(raw, "parallel_tool_calls"); ok {
		return b
	}
	return false
}

func normalizeResponseFormat(rf map[string]interface{}) *ResponseFormat {
	typ := jsonval.GetString(rf, "type", "")
	if typ != "json_object" && typ != "json_schema" {
		return nil
	}
	out := &ResponseFormat{Type: typ}
	if typ == "json_schema" {
		if schema, ok := jsonval.TryGetObject(rf, "json_schema"); ok {
			out.Schema = schema
		} else if schema, ok := jsonval.TryGetObject(rf, "schema"); ok {
			out.Schema = schema
		}
	}
	return out
}
