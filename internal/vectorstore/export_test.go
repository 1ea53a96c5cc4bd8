package vectorstore

import "time"

// NewInMemoryStore returns a QdrantStore backed by the in-memory fake server.
func NewInMemoryStore(vectorSize int) *QdrantStore {
	return newQdrantStore(newFakeQdrant(), QdrantConfig{
		Collection:  "document_embeddings",
		VectorSize:  vectorSize,
		PingTimeout: time.Second,
	})
}
