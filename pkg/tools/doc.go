// Package tools provides the tools the default agent offers to the model:
// recall memory search and save, web search and the current time.
//
// Every tool resolves the conversation owner from the invocation context
// (see domain.ConversationKeyFrom), so memories never cross owners.
package tools
