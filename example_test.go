package recall_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/recall"
	"github.com/aretw0/recall/internal/testutils"
	"github.com/aretw0/recall/pkg/adapters/memory"
	"github.com/aretw0/recall/pkg/domain"
)

// ExampleAgent_Stream demonstrates streaming a reply with an in-memory setup.
// A real deployment passes an OpenAI or Anthropic adapter instead of the scripted model.
func ExampleAgent_Stream() {
	model := testutils.NewScriptedModel(testutils.Turn{Text: []string{"Hello", ", ", "Ada!"}})

	agent, err := recall.New(model, memory.NewRecallStore())
	if err != nil {
		log.Fatal(err)
	}

	key := domain.ConversationKey{OwnerID: "ada", ThreadID: "intro"}
	for fragment, err := range agent.Stream(context.Background(), key, "Hi, I'm Ada") {
		if err != nil {
			log.Fatal(err)
		}
		fmt.Print(fragment)
	}
	fmt.Println()

	cp, _ := agent.Thread(context.Background(), key)
	fmt.Println(len(cp.State.Messages), "messages")

	// Output:
	// Hello, Ada!
	// 2 messages
}
