package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/raphaelgruber/socialagent/internal/models"
)

// DefaultPersonality describes the voice the agent writes in.
const DefaultPersonality = "A cheerful and friendly crypto lover who enjoys exploring DeFi and meme coins, " +
	"and a fan of blockchain games with unique token systems. Always happy to help beginners, " +
	"keeps things positive and easy to understand."

// Generator is the text generation surface Agent needs. *Model implements it.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Agent turns job inputs into posts and replies.
type Agent struct {
	gen         Generator
	personality string
}

// NewAgent creates an Agent. An empty personality uses DefaultPersonality.
func NewAgent(gen Generator, personality string) *Agent {
	if personality == "" {
		personality = DefaultPersonality
	}
	return &Agent{gen: gen, personality: personality}
}

func (a *Agent) system(task string) string {
	return fmt.Sprintf(`%s
Personality: %s
Don't pretend to know something you don't. Reply with the post text only, in one line.`, task, a.personality)
}

// Post writes a new post following an instruction.
func (a *Agent) Post(ctx context.Context, instruction, recentPosts, knowledge string) (string, error) {
	user := fmt.Sprintf(`Your recent posts (do not repeat them):
%s

Knowledge:
%s

Instruction: %s`, recentPosts, knowledge, instruction)

	return a.generate(ctx, "You are a social media assistant writing an original post.", user)
}

// QuotePost writes a comment to publish when quoting a post.
func (a *Agent) QuotePost(ctx context.Context, quoted, knowledge string) (string, error) {
	user := fmt.Sprintf(`Knowledge:
%s

Post to quote: %s`, knowledge, quoted)

	return a.generate(ctx, "You are a social media assistant adding a short comment to a post you are quoting.", user)
}

// Cheer writes an upbeat reply supporting the project in a post.
func (a *Agent) Cheer(ctx context.Context, post, knowledge string) (string, error) {
	user := fmt.Sprintf(`Knowledge (optional):
%s

Post to reply to: %s`, knowledge, post)

	return a.generate(ctx, "You are a social media assistant cheering on the project mentioned in a post. Keep it positive.", user)
}

// Reply answers a message given the conversation so far.
func (a *Agent) Reply(ctx context.Context, history []models.Chat, message, knowledge string) (string, error) {
	user := fmt.Sprintf(`Past conversation:
%s

Knowledge:
%s

Message: %s`, FormatHistory(history), knowledge, message)

	return a.generate(ctx, "You are a social media assistant writing a thoughtful, context-aware reply.", user)
}

// ReplyAirdrop answers an airdrop request with its outcome.
func (a *Agent) ReplyAirdrop(ctx context.Context, history []models.Chat, message string, succeeded bool, reason string) (string, error) {
	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	user := fmt.Sprintf(`Past conversation:
%s

Airdrop result: %s
Failure reason (if any): %s

Message: %s`, FormatHistory(history), result, reason, message)

	return a.generate(ctx, `You are a social media assistant answering an airdrop request.
If the airdrop succeeded, congratulate the user. If it failed, explain why briefly.`, user)
}

const judgeAirdropPrompt = `You judge whether a user is requesting an airdrop of blockchain gas tokens.
Answer with true or false only.

Input: Hi, send me some gas tokens to 0x181492cC5d738c51B236603cE649229A17a7cb0e
Output: true

Input: Don't give me gas tokens, I don't need them. 0x181492cC5d738c51B236603cE649229A17a7cb0e
Output: false

Input: Hello, 0x181492cC5d738c51B236603cE649229A17a7cb0e
Output: true

Input: I love my NFTs at 0x181492cC5d738c51B236603cE649229A17a7cb0e
Output: false`

var boolPattern = regexp.MustCompile(`\b(true|false)\b`)

// JudgeAirdropRequest asks the model whether message requests an airdrop.
func (a *Agent) JudgeAirdropRequest(ctx context.Context, message string) (bool, error) {
	out, err := a.gen.GenerateWithSystem(ctx, judgeAirdropPrompt, fmt.Sprintf("Input: %s\nOutput:", message))
	if err != nil {
		return false, err
	}
	return parseBool(out)
}

func parseBool(text string) (bool, error) {
	m := boolPattern.FindString(strings.ToLower(text))
	if m == "" {
		return false, fmt.Errorf("invalid boolean response: %q", text)
	}
	return m == "true", nil
}

func (a *Agent) generate(ctx context.Context, task, user string) (string, error) {
	out, err := a.gen.GenerateWithSystem(ctx, a.system(task), user)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	out = strings.Trim(out, `"`)
	if out == "" {
		return "", fmt.Errorf("empty model response")
	}
	return out, nil
}

// FormatHistory renders chats one per line, tagged by speaker.
func FormatHistory(chats []models.Chat) string {
	var b strings.Builder
	for _, c := range chats {
		role := "user"
		if c.Speaker == models.SpeakerSelf {
			role = "assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, c.Content)
	}
	return b.String()
}
