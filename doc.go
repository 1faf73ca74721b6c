/*
Package recall is a conversational agent engine with long-term memory.

An agent's behavior is a small directed graph of steps: load memories relevant to the
conversation, generate a reply with a language model, optionally invoke the tools the
model asked for, and loop back. Each conversation, identified by an owner and a thread,
keeps a durable checkpoint that is advanced with compare-and-swap, so concurrent
requests never silently overwrite each other.

# Usage

	model := openai.New(func(o *openai.Options) { o.Model = "gpt-4o-mini" })
	agent, err := recall.New(model, memory.NewRecallStore())
	if err != nil {
		log.Fatal(err)
	}

	key := domain.ConversationKey{OwnerID: "u1", ThreadID: "t1"}
	for fragment, err := range agent.Stream(ctx, key, "What's my favorite color?") {
		if err != nil {
			log.Fatal(err)
		}
		fmt.Print(fragment)
	}

# Architecture

The engine follows a hexagonal layout. The language model, the long-term memory and
the checkpoint store are ports (package ports) with adapters for OpenAI, Anthropic,
Redis, SQLite, PostgreSQL and memory under pkg/adapters. The HTTP, MCP and terminal
front ends live in pkg/adapters and cmd/recall.
*/
package recall
