package blueprint

import "github.com/brianstittsr/loom/pkg/models"

func node(id, nodeType, subtype, name string, x, y float64, config map[string]any, successors ...string) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:         id,
		Type:       nodeType,
		Subtype:    subtype,
		Name:       name,
		Config:     config,
		Position:   models.Position{X: x, Y: y},
		Successors: successors,
	}
}

// passthrough is the no-op branch of a condition node: the data value
// moves on unchanged and nothing is delivered.
func passthrough(id, name string, x, y float64) *models.WorkflowNode {
	return node(id, models.NodeTypeTransform, "expression", name, x, y,
		map[string]any{"expression": "{data}"})
}

// ContentSummarizer condenses webhook-submitted content and posts the
// summary to chat.
func ContentSummarizer() *Blueprint {
	return &Blueprint{
		ID:          "content_summarizer",
		Name:        "Content Summarizer",
		Description: "Automatically summarize long messages or documents",
		Category:    "Content Processing",
		Nodes: []*models.WorkflowNode{
			node("trigger_1", models.NodeTypeTrigger, "webhook", "Content Webhook", 0, 0,
				map[string]any{}, "ai_1"),
			node("ai_1", models.NodeTypeAIAgent, "chat", "Summarizer", 200, 0,
				map[string]any{
					"prompt": "Summarize the following content in two or three key points. " +
						"Keep the original tone and call out action items or dates.\n\nContent: {input}",
					"model": "gpt-4",
				}, "output_1"),
			node("output_1", models.NodeTypeOutput, "chat", "Post Summary", 400, 0,
				map[string]any{
					"channel":          "general",
					"message_template": "**Content Summary**\n\n{data}",
				}),
		},
	}
}

// SentimentAnalyzer watches chat channels and alerts when a message reads
// negative.
func SentimentAnalyzer() *Blueprint {
	return &Blueprint{
		ID:          "sentiment_analyzer",
		Name:        "Sentiment Analyzer",
		Description: "Analyze sentiment of messages and trigger alerts for negative sentiment",
		Category:    "Analytics",
		Nodes: []*models.WorkflowNode{
			node("trigger_1", models.NodeTypeTrigger, "chat_message", "Channel Messages", 0, 0,
				map[string]any{
					"channels": []any{"support", "feedback"},
					"keywords": []any{},
				}, "ai_1"),
			node("ai_1", models.NodeTypeAIAgent, "analyst", "Sentiment Analyst", 200, 0,
				map[string]any{
					"prompt": "Classify the sentiment of this message as positive, negative or neutral " +
						"and give a one-sentence reason. Start your reply with the classification word.\n\nMessage: {input}",
					"model": "gpt-4",
				}, "condition_1"),
			node("condition_1", models.NodeTypeCondition, "expression", "Negative Sentiment?", 400, 0,
				map[string]any{"expression": "{data} contains negative"},
				"output_1", "skip_1"),
			node("output_1", models.NodeTypeOutput, "chat", "Alert Team", 600, -50,
				map[string]any{
					"channel":          "alerts",
					"message_template": "**Negative sentiment detected**\n\nMessage: {trigger.message}\nAnalysis: {data}",
				}),
			passthrough("skip_1", "No Alert", 600, 50),
		},
	}
}

// AutomatedResponder answers common questions in chat and hands the rest
// to a human.
func AutomatedResponder() *Blueprint {
	return &Blueprint{
		ID:          "automated_responder",
		Name:        "Automated Responder",
		Description: "Automatically respond to common questions with AI-generated answers",
		Category:    "Customer Support",
		Nodes: []*models.WorkflowNode{
			node("trigger_1", models.NodeTypeTrigger, "chat_message", "Question Listener", 0, 0,
				map[string]any{
					"channels": []any{"support", "general"},
					"keywords": []any{"help", "how to", "question", "?"},
				}, "ai_1"),
			node("ai_1", models.NodeTypeAIAgent, "chat", "Support Agent", 200, 0,
				map[string]any{
					"prompt": "You are a friendly support agent. Answer the question below concisely. " +
						"If you cannot answer it confidently, reply with the single word ESCALATE.\n\nQuestion: {input}",
					"model": "gpt-4",
				}, "condition_1"),
			node("condition_1", models.NodeTypeCondition, "expression", "Needs a Human?", 400, 0,
				map[string]any{"expression": "{data} contains ESCALATE"},
				"escalate_1", "output_1"),
			node("escalate_1", models.NodeTypeOutput, "chat", "Request Human Help", 600, -50,
				map[string]any{
					"channel":          "support-team",
					"message_template": "A question needs human attention:\n\n{trigger.message}",
				}),
			node("output_1", models.NodeTypeOutput, "chat", "Send Answer", 600, 50,
				map[string]any{
					"channel":          "{trigger.channel_id}",
					"message_template": "{data}\n\nTag @support if this does not answer your question.",
				}),
		},
	}
}

// DataProcessor normalizes webhook-submitted records, analyzes them and
// posts a report.
func DataProcessor() *Blueprint {
	return &Blueprint{
		ID:          "data_processor",
		Name:        "Data Processor",
		Description: "Process incoming data, analyze patterns, and generate reports",
		Category:    "Data Analytics",
		Nodes: []*models.WorkflowNode{
			node("trigger_1", models.NodeTypeTrigger, "webhook", "Data Webhook", 0, 0,
				map[string]any{}, "transform_1"),
			node("transform_1", models.NodeTypeTransform, "expression", "Normalize Payload", 200, 0,
				map[string]any{"expression": `{"records": {data}, "source": "webhook"}`},
				"ai_1"),
			node("ai_1", models.NodeTypeAIAgent, "analyst", "Data Analyst", 400, 0,
				map[string]any{
					"prompt": "Analyze this data. Report key patterns, anomalies and " +
						"actionable recommendations in short sections.\n\nData: {input}",
					"model": "gpt-4",
				}, "output_1"),
			node("output_1", models.NodeTypeOutput, "chat", "Send Report", 600, 0,
				map[string]any{
					"channel":          "analytics",
					"message_template": "**Data Analysis Report**\n\n{data}",
				}),
		},
	}
}

// MeetingScheduler parses natural-language scheduling requests and checks
// calendar availability.
func MeetingScheduler() *Blueprint {
	return &Blueprint{
		ID:          "meeting_scheduler",
		Name:        "Meeting Scheduler",
		Description: "Automatically schedule meetings based on natural language requests",
		Category:    "Productivity",
		Nodes: []*models.WorkflowNode{
			node("trigger_1", models.NodeTypeTrigger, "chat_message", "Schedule Request", 0, 0,
				map[string]any{
					"channels": []any{"general", "team"},
					"keywords": []any{"schedule", "meeting", "call", "sync"},
				}, "ai_1"),
			node("ai_1", models.NodeTypeAIAgent, "chat", "Schedule Parser", 200, 0,
				map[string]any{
					"prompt": "Extract the meeting details from this request as JSON with the keys " +
						"title, participants, duration and preferred_times. Use null for anything " +
						"not mentioned.\n\nRequest: {input}",
					"model": "gpt-4",
				}, "action_1"),
			node("action_1", models.NodeTypeAction, "http", "Check Calendar", 400, 0,
				map[string]any{
					"url":     "{env.CALENDAR_API_URL}/check-availability",
					"method":  "POST",
					"headers": map[string]any{"Authorization": "Bearer {env.CALENDAR_API_TOKEN}"},
					"body":    "{data}",
				}, "output_1"),
			node("output_1", models.NodeTypeOutput, "chat", "Propose Times", 600, 0,
				map[string]any{
					"channel":          "{trigger.channel_id}",
					"message_template": "**Meeting Scheduling**\n\nAvailable times:\n{data.body}",
				}),
		},
	}
}

// CodeReviewer reviews code submitted over a webhook and routes the
// feedback by severity.
func CodeReviewer() *Blueprint {
	return &Blueprint{
		ID:          "code_reviewer",
		Name:        "Code Reviewer",
		Description: "Automatically review code changes and provide feedback",
		Category:    "Development",
		Nodes: []*models.WorkflowNode{
			node("trigger_1", models.NodeTypeTrigger, "webhook", "Code Webhook", 0, 0,
				map[string]any{}, "ai_1"),
			node("ai_1", models.NodeTypeAIAgent, "chat", "Reviewer", 200, 0,
				map[string]any{
					"prompt": "Review this code change. Cover code quality, potential bugs, " +
						"performance and security, and keep the tone constructive. Mention the " +
						"word issue for every problem you find.\n\nCode: {input}",
					"model": "gpt-4",
				}, "condition_1"),
			node("condition_1", models.NodeTypeCondition, "expression", "Issues Found?", 400, 0,
				map[string]any{"expression": "{data} contains issue"},
				"output_1", "output_2"),
			node("output_1", models.NodeTypeOutput, "chat", "Alert Developer", 600, -50,
				map[string]any{
					"channel":          "dev-alerts",
					"message_template": "**Code Review Alert**\n\nPotential issues found:\n{data}",
				}),
			node("output_2", models.NodeTypeOutput, "chat", "Post Review", 600, 50,
				map[string]any{
					"channel":          "code-reviews",
					"message_template": "**Code Review Complete**\n\n{data}",
				}),
		},
	}
}

// CustomerSupport classifies support requests and answers or escalates.
func CustomerSupport() *Blueprint {
	return &Blueprint{
		ID:          "customer_support",
		Name:        "Customer Support",
		Description: "Intelligent customer support with escalation handling",
		Category:    "Customer Support",
		Nodes: []*models.WorkflowNode{
			node("trigger_1", models.NodeTypeTrigger, "chat_message", "Support Request", 0, 0,
				map[string]any{
					"channels": []any{"support"},
					"keywords": []any{"help", "issue", "problem", "bug"},
				}, "ai_1"),
			node("ai_1", models.NodeTypeAIAgent, "chat", "Support Classifier", 200, 0,
				map[string]any{
					"prompt": "Classify this support request by category (technical, billing, general) " +
						"and priority (high, medium, low), then draft a response. If it needs a human, " +
						"start your reply with the word ESCALATE and the reason.\n\nRequest: {input}",
					"model": "gpt-4",
				}, "condition_1"),
			node("condition_1", models.NodeTypeCondition, "expression", "Escalation Needed?", 400, 0,
				map[string]any{"expression": "{data} contains ESCALATE"},
				"escalate_1", "output_1"),
			node("escalate_1", models.NodeTypeOutput, "chat", "Escalate to Human", 600, -50,
				map[string]any{
					"channel":          "support-team",
					"message_template": "**Support Escalation**\n\nRequest: {trigger.message}\n\nTriage: {data}",
				}),
			node("output_1", models.NodeTypeOutput, "chat", "Auto Response", 600, 50,
				map[string]any{
					"channel":          "{trigger.channel_id}",
					"message_template": "**Support Response**\n\n{data}",
				}),
		},
	}
}

// ContentModerator screens chat messages and removes flagged posts.
func ContentModerator() *Blueprint {
	return &Blueprint{
		ID:          "content_moderator",
		Name:        "Content Moderator",
		Description: "Automatically moderate content for inappropriate material",
		Category:    "Moderation",
		Nodes: []*models.WorkflowNode{
			node("trigger_1", models.NodeTypeTrigger, "chat_message", "New Message", 0, 0,
				map[string]any{
					"channels": []any{"general", "random"},
					"keywords": []any{},
				}, "ai_1"),
			node("ai_1", models.NodeTypeAIAgent, "chat", "Moderator", 200, 0,
				map[string]any{
					"prompt": "Check this message for offensive language, harassment, spam or policy " +
						"violations. Reply OK when the message is fine, otherwise reply " +
						"VIOLATION followed by the reason.\n\nMessage: {input}",
					"model": "gpt-4",
				}, "condition_1"),
			node("condition_1", models.NodeTypeCondition, "expression", "Violation?", 400, 0,
				map[string]any{"expression": "{data} contains VIOLATION"},
				"output_1", "skip_1"),
			node("output_1", models.NodeTypeOutput, "chat", "Notify Moderators", 600, -50,
				map[string]any{
					"channel":          "moderation-log",
					"message_template": "**Content Moderated**\n\nVerdict: {data}\n\nRemoving the original message.",
				}, "action_1"),
			node("action_1", models.NodeTypeAction, "http", "Remove Message", 800, -50,
				map[string]any{
					"url":     "{env.MATTERMOST_URL}/api/v4/posts/{trigger.post_id}",
					"method":  "DELETE",
					"headers": map[string]any{"Authorization": "Bearer {env.MATTERMOST_TOKEN}"},
				}),
			passthrough("skip_1", "Approve", 600, 50),
		},
	}
}
