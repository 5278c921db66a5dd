package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/orbitalworks/constellation/internal/editor"
	"github.com/orbitalworks/constellation/pkg/models"
)

// Proposal is the oracle's answer: edit commands ready for the editor, plus
// the reasoning behind them.
type Proposal struct {
	Commands  []editor.Command
	Reasoning string
}

// Oracle proposes graph edits for a user request. Implementations are opaque
// decision functions; the orchestrator validates everything they return.
type Oracle interface {
	// ProposeEdits returns edit commands for the given constellation
	// snapshot and request. Rejections from a previous round are passed
	// back so the oracle can self-correct.
	ProposeEdits(ctx context.Context, snapshot *models.Constellation, request string, rejections []string) (Proposal, error)
}

// Planner is the Claude-backed Oracle.
type Planner struct {
	client *Client
	log    *slog.Logger
}

// NewPlanner creates a Planner on top of an API client.
func NewPlanner(client *Client, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{client: client, log: log}
}

// ProposeEdits implements Oracle.
func (p *Planner) ProposeEdits(ctx context.Context, snapshot *models.Constellation, request string, rejections []string) (Proposal, error) {
	graphJSON, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return Proposal{}, fmt.Errorf("marshal graph snapshot: %w", err)
	}

	feedback := ""
	if len(rejections) > 0 {
		feedback = fmt.Sprintf(rejectionPreamble, "- "+strings.Join(rejections, "\n- "))
	}
	prompt := fmt.Sprintf(proposePrompt, request, string(graphJSON), feedback)

	start := time.Now()
	resp, err := p.client.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.client.Model(),
		MaxTokens: 8192,
		System: []anthropic.TextBlockParam{
			{Text: planningSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("oracle call failed: %w", err)
	}
	p.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	proposal, err := ParseProposal(text)
	if err != nil {
		return Proposal{}, err
	}
	p.log.Info("oracle proposed edits",
		"commands", len(proposal.Commands),
		"elapsed", time.Since(start),
		"rejections_fed_back", len(rejections))
	return proposal, nil
}

// rawEdit is one entry of the oracle's JSON edit list.
type rawEdit struct {
	Op                 string   `json:"op"`
	TaskID             string   `json:"task_id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Priority           int      `json:"priority"`
	RequiredFeatures   []string `json:"required_features"`
	RequiredDeviceType string   `json:"required_device_type"`
	TargetDeviceID     string   `json:"target_device_id"`
	LineID             string   `json:"line_id"`
	FromTaskID         string   `json:"from_task_id"`
	ToTaskID           string   `json:"to_task_id"`
	DependencyType     string   `json:"dependency_type"`
	Condition          string   `json:"condition"`
}

// rawProposal is the oracle's full JSON response body.
type rawProposal struct {
	Reasoning string    `json:"reasoning"`
	Edits     []rawEdit `json:"edits"`
}

// ParseProposal extracts the JSON proposal from an oracle response and
// converts it into editor commands. Surrounding prose is tolerated; a
// response with no JSON object, or with an unknown op, fails the whole parse.
func ParseProposal(response string) (Proposal, error) {
	jsonStart := strings.Index(response, "{")
	jsonEnd := strings.LastIndex(response, "}")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "... (truncated)"
		}
		return Proposal{}, fmt.Errorf("no JSON object found in oracle response (got %d chars): %q", len(response), preview)
	}
	jsonStr := response[jsonStart : jsonEnd+1]

	var raw rawProposal
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return Proposal{}, fmt.Errorf("unmarshal oracle response: %w", err)
	}
	if len(raw.Edits) == 0 {
		return Proposal{}, fmt.Errorf("oracle returned no edits")
	}

	cmds := make([]editor.Command, 0, len(raw.Edits))
	for i, e := range raw.Edits {
		cmd, err := e.toCommand()
		if err != nil {
			return Proposal{}, fmt.Errorf("edit %d: %w", i, err)
		}
		cmds = append(cmds, cmd)
	}
	return Proposal{Commands: cmds, Reasoning: raw.Reasoning}, nil
}

func (e rawEdit) toCommand() (editor.Command, error) {
	switch e.Op {
	case "add_task":
		id := e.TaskID
		if id == "" {
			id = uuid.NewString()
		}
		if e.Name == "" {
			return nil, fmt.Errorf("add_task %s has no name", id)
		}
		t := models.NewTask(id, e.Name)
		t.Description = e.Description
		t.Priority = e.Priority
		t.RequiredFeatures = e.RequiredFeatures
		t.RequiredDeviceType = models.PlatformType(e.RequiredDeviceType)
		t.TargetDeviceID = e.TargetDeviceID
		return &editor.AddTask{Task: t}, nil

	case "remove_task":
		if e.TaskID == "" {
			return nil, fmt.Errorf("remove_task has no task_id")
		}
		return &editor.RemoveTask{TaskID: e.TaskID}, nil

	case "add_dependency":
		id := e.LineID
		if id == "" {
			id = uuid.NewString()
		}
		if e.FromTaskID == "" || e.ToTaskID == "" {
			return nil, fmt.Errorf("add_dependency %s missing from_task_id or to_task_id", id)
		}
		d := models.NewDependency(id, e.FromTaskID, e.ToTaskID)
		if e.DependencyType == string(models.DependencyConditional) {
			d.DependencyType = models.DependencyConditional
			d.ConditionDescription = e.Condition
		}
		return &editor.AddDependency{Dependency: d}, nil

	case "remove_dependency":
		if e.LineID == "" {
			return nil, fmt.Errorf("remove_dependency has no line_id")
		}
		return &editor.RemoveDependency{LineID: e.LineID}, nil

	default:
		return nil, fmt.Errorf("unknown op %q", e.Op)
	}
}
