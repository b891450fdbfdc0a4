package minionagent

import "github.com/nebulus-ai/overlord/pkg/llm"

// buildToolDefinitions returns the fixed tool vocabulary offered to the
// model every turn, optionally including dispatch_subtask
// when sub-agent fan-out is enabled.
func buildToolDefinitions(subagentsEnabled bool) []llm.ToolDefinition {
	defs := []llm.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read a file's contents, optionally restricted to a line range.",
			ParametersSchema: `{"type":"object","properties":{
				"path":{"type":"string"},
				"start_line":{"type":"integer"},
				"end_line":{"type":"integer"}
			},"required":["path"]}`,
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a file with the given content.",
			ParametersSchema: `{"type":"object","properties":{
				"path":{"type":"string"},
				"content":{"type":"string"}
			},"required":["path","content"]}`,
		},
		{
			Name:        "edit_file",
			Description: "Replace the first occurrence of old_text with new_text in a file.",
			ParametersSchema: `{"type":"object","properties":{
				"path":{"type":"string"},
				"old_text":{"type":"string"},
				"new_text":{"type":"string"}
			},"required":["path","old_text","new_text"]}`,
		},
		{
			Name:        "list_directory",
			Description: "List entries under a directory, optionally recursively.",
			ParametersSchema: `{"type":"object","properties":{
				"path":{"type":"string"},
				"recursive":{"type":"boolean"}
			},"required":["path"]}`,
		},
		{
			Name:        "search_files",
			Description: "Search file contents for a regular expression under a path, optionally restricted by a file glob.",
			ParametersSchema: `{"type":"object","properties":{
				"pattern":{"type":"string"},
				"path":{"type":"string"},
				"file_glob":{"type":"string"}
			},"required":["pattern"]}`,
		},
		{
			Name:        "glob_files",
			Description: "List file paths matching a glob pattern.",
			ParametersSchema: `{"type":"object","properties":{
				"pattern":{"type":"string"}
			},"required":["pattern"]}`,
		},
		{
			Name:        "run_command",
			Description: "Run a shell command inside the workspace, with an optional timeout in seconds.",
			ParametersSchema: `{"type":"object","properties":{
				"command":{"type":"string"},
				"timeout":{"type":"integer"}
			},"required":["command"]}`,
		},
		{
			Name:        "list_skills",
			Description: "List available reusable skills.",
			ParametersSchema: `{"type":"object","properties":{}}`,
		},
		{
			Name:        "use_skill",
			Description: "Load a skill's instructions by name.",
			ParametersSchema: `{"type":"object","properties":{
				"name":{"type":"string"}
			},"required":["name"]}`,
		},
		{
			Name:        "task_complete",
			Description: "Declare the task finished. Terminates the turn loop.",
			ParametersSchema: `{"type":"object","properties":{
				"summary":{"type":"string"},
				"files_changed":{"type":"array","items":{"type":"string"}}
			},"required":["summary"]}`,
		},
		{
			Name:        "task_blocked",
			Description: "Declare the task blocked on a human answer. Terminates the turn loop and surfaces question to the operator.",
			ParametersSchema: `{"type":"object","properties":{
				"reason":{"type":"string"},
				"blocker_type":{"type":"string","enum":["missing_info","too_complex","unclear_requirements","external_dependency"]},
				"question":{"type":"string"}
			},"required":["reason","blocker_type","question"]}`,
		},
	}

	if subagentsEnabled {
		defs = append(defs, llm.ToolDefinition{
			Name:        "dispatch_subtask",
			Description: "Delegate a narrowly scoped sub-investigation to a nested agent and receive its textual result.",
			ParametersSchema: `{"type":"object","properties":{
				"prompt":{"type":"string"}
			},"required":["prompt"]}`,
		})
	}

	return defs
}
