// Package stdiotool exposes the three vault operations over the stdio tool
// protocol, one process bound to one client over standard input/output.
package stdiotool

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	mcp "github.com/metoro-io/mcp-golang"
	"github.com/metoro-io/mcp-golang/transport/stdio"

	"github.com/cryptolabinc/rune-vault/internal/vaultservice"
)

const transportName = "stdio"

// GetPublicKeyArgs are the arguments for the get_public_key tool.
type GetPublicKeyArgs struct {
	Token string `json:"token" jsonschema:"required,description=Bearer token identifying the calling principal"`
}

// DecryptScoresArgs are the arguments for the decrypt_scores tool.
type DecryptScoresArgs struct {
	Token            string `json:"token" jsonschema:"required,description=Bearer token identifying the calling principal"`
	EncryptedBlobB64 string `json:"encrypted_blob_b64" jsonschema:"required,description=Base64-encoded CiphertextScore protobuf produced by the cloud index"`
	TopK             int    `json:"top_k,omitempty" jsonschema:"description=Number of top-scoring results to return (1-10, default 5)"`
}

// DecryptMetadataArgs are the arguments for the decrypt_metadata tool.
type DecryptMetadataArgs struct {
	Token                 string   `json:"token" jsonschema:"required,description=Bearer token identifying the calling principal"`
	EncryptedMetadataList []string `json:"encrypted_metadata_list" jsonschema:"required,description=Base64-encoded AES-GCM metadata ciphertexts"`
}

// Server wraps an mcp-golang stdio server bound to the vault service.
type Server struct {
	svc    *vaultservice.Service
	server *mcp.Server
}

// New registers the three vault tools against a fresh stdio transport.
func New(svc *vaultservice.Service) (*Server, error) {
	server := mcp.NewServer(stdio.NewStdioServerTransport())
	s := &Server{svc: svc, server: server}

	if err := server.RegisterTool("get_public_key", "Fetch the vault's public encryption/evaluation key bundle", s.getPublicKey); err != nil {
		return nil, fmt.Errorf("stdiotool: registering get_public_key: %w", err)
	}
	if err := server.RegisterTool("decrypt_scores", "Decrypt a ciphertext-score blob and return the ranked top-K entries", s.decryptScores); err != nil {
		return nil, fmt.Errorf("stdiotool: registering decrypt_scores: %w", err)
	}
	if err := server.RegisterTool("decrypt_metadata", "Decrypt a batch of AES-encrypted metadata tokens", s.decryptMetadata); err != nil {
		return nil, fmt.Errorf("stdiotool: registering decrypt_metadata: %w", err)
	}
	return s, nil
}

// Serve blocks, handling tool invocations until the client closes stdin.
func (s *Server) Serve() error {
	log.Info("stdio tool transport listening")
	return s.server.Serve()
}

func (s *Server) getPublicKey(args GetPublicKeyArgs) (*mcp.ToolResponse, error) {
	out, err := s.svc.GetPublicKey(context.Background(), transportName, args.Token)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponse(mcp.NewTextContent(out)), nil
}

func (s *Server) decryptScores(args DecryptScoresArgs) (*mcp.ToolResponse, error) {
	topK := args.TopK
	if topK == 0 {
		topK = vaultservice.DefaultTopK
	}
	out, err := s.svc.DecryptScores(context.Background(), transportName, args.Token, args.EncryptedBlobB64, topK)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponse(mcp.NewTextContent(out)), nil
}

func (s *Server) decryptMetadata(args DecryptMetadataArgs) (*mcp.ToolResponse, error) {
	out, err := s.svc.DecryptMetadata(context.Background(), transportName, args.Token, args.EncryptedMetadataList)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponse(mcp.NewTextContent(out)), nil
}
