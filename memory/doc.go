// Package memory provides the companion's short-term textual memory.
//
// Every utterance, from the user and from the companion itself, is embedded
// and appended to a durable store. Before a reply is generated, the store is
// searched for the utterances most similar to the new message and a short
// summary of them is handed to the reply generator.
//
// Architecture:
//   - Store: append-only vector store (chromem-go index + JSON metadata)
//   - Embedder: Text-to-vector conversion (ONNX MiniLM, hash mock, cache)
//   - Manager: recording and summarizing on behalf of the engine
//
// Persistence:
//   - two sibling files, memory.index and memory.json, always describing
//     the same record count
//   - rewritten whole on every Add via temp file + rename
package memory
