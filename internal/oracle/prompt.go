package oracle

// planningSystemPrompt frames the oracle's role for every call.
const planningSystemPrompt = `You are a planning oracle for a device-fleet task orchestrator. You decompose user requests into a directed acyclic graph of device tasks, and you repair the graph when edits are rejected or tasks fail. You only ever respond with a single JSON object in the exact schema requested.`

// proposePrompt is the prompt template for graph edit proposals.
const proposePrompt = `Propose edits to the task graph below to satisfy the user request. Each task runs on one remote device; dependencies gate when a task becomes eligible.

User request:
%s

Current graph (JSON):
%s
%s
Return ONLY a JSON object with this exact structure (no other text):
{
  "reasoning": "One paragraph explaining the plan",
  "edits": [
    {
      "op": "add_task",
      "task_id": "short-unique-id",
      "name": "Short task name",
      "description": "Detailed instruction the device will execute",
      "priority": 0,
      "required_features": ["gui"],
      "required_device_type": "computer|mobile|",
      "target_device_id": ""
    },
    {
      "op": "add_dependency",
      "line_id": "short-unique-id",
      "from_task_id": "upstream task_id",
      "to_task_id": "downstream task_id",
      "dependency_type": "unconditional|conditional",
      "condition": "success|failure|contains:TEXT (conditional only)"
    },
    {"op": "remove_task", "task_id": "id of a task to delete"},
    {"op": "remove_dependency", "line_id": "id of an edge to delete"}
  ]
}

Rules:
- The edge set must stay acyclic: never add a dependency from a task onto one of its own (transitive) prerequisites.
- Only add dependencies when truly necessary; independent tasks run in parallel across devices.
- required_features must list capabilities the device needs (e.g. "gui", "mobile_touch"); leave empty when any device will do.
- Use empty string fields rather than omitting keys.
- Reference only task_ids that exist in the current graph or are created by an earlier edit in this same list.`

// rejectionPreamble introduces validator feedback from a previous proposal.
const rejectionPreamble = `
Your previous proposal was partially rejected. Correct it. Rejection reasons:
%s
`
