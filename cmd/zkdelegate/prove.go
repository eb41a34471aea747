package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/spf13/cobra"

	"github.com/zkdelegate-org/zkdelegate/merklemap"
	"github.com/zkdelegate-org/zkdelegate/order"
	"github.com/zkdelegate-org/zkdelegate/zk"
)

// ProofOutput is the JSON output structure for a generated proof
type ProofOutput struct {
	Circuit   string `json:"circuit"`
	Target    string `json:"target"`
	Signer    string `json:"signer"`
	OrderHash string `json:"order_hash"`
	OldRoot   string `json:"old_root,omitempty"`
	NewRoot   string `json:"new_root,omitempty"`
	ProofData string `json:"proof_data"`
}

// proveCmd creates the proof generation command
func proveCmd() *cobra.Command {
	var (
		circuitName string
		targetHex   string
		signerHex   string
		sigHex      string
		setupDir    string
		storePath   string
		outputFile  string
	)

	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Generate a delegation proof",
		Long: `Generate a zero-knowledge proof for a delegation order.

With --circuit delegate, the proof shows that the signature authorizes the
order; the signature itself stays private. With --circuit record, the proof
additionally covers the map transition that records the order: the local
store is advanced and the proof carries the old and new roots as public
inputs, ready for submission to a registry that follows this store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ord, err := parseOrder(targetHex, signerHex)
			if err != nil {
				return err
			}
			sig, err := parseSignature(sigHex)
			if err != nil {
				return err
			}
			if err := order.Verify(ord, sig); err != nil {
				return err
			}

			hash := order.Hash(ord)
			output := ProofOutput{
				Circuit:   strings.ToLower(circuitName),
				Target:    targetHex,
				Signer:    signerHex,
				OrderHash: hex.EncodeToString(hash[:]),
			}

			var proof *zk.Proof
			switch strings.ToLower(circuitName) {
			case "delegate":
				cs, pk, err := loadProvingArtifacts(setupDir, zk.CircuitDelegate)
				if err != nil {
					return err
				}
				fmt.Println("Generating PLONK proof...")
				proof, err = zk.NewProver(cs, pk).GenerateProof(ord, sig)
				if err != nil {
					return fmt.Errorf("failed to generate proof: %w", err)
				}

			case "record":
				m, err := openStoreMap(storePath)
				if err != nil {
					return err
				}
				defer m.Close()

				w, recorded, err := m.RecordCandidate(ord)
				if err != nil {
					return err
				}
				if !recorded {
					return fmt.Errorf("order %s is already recorded in this store", output.OrderHash)
				}
				newRoot := m.Root()
				output.OldRoot = hex.EncodeToString(w.Root[:])
				output.NewRoot = hex.EncodeToString(newRoot[:])

				cs, pk, err := loadProvingArtifacts(setupDir, zk.CircuitRecord)
				if err != nil {
					return err
				}
				fmt.Println("Generating PLONK proof...")
				proof, err = zk.NewRecordProver(cs, pk).GenerateProof(ord, sig, w)
				if err != nil {
					return fmt.Errorf("failed to generate proof: %w", err)
				}

			default:
				return fmt.Errorf("unknown circuit %q: want delegate or record", circuitName)
			}

			output.ProofData = hex.EncodeToString(proof.Bytes())
			if err := writeJSONOutput(output, outputFile); err != nil {
				return err
			}
			fmt.Println("\nProof generation complete!")
			return nil
		},
	}

	cmd.Flags().StringVar(&circuitName, "circuit", "delegate", "Circuit to prove: delegate or record")
	cmd.Flags().StringVar(&targetHex, "target", "", "Compressed target account in hex (33 bytes)")
	cmd.Flags().StringVar(&signerHex, "signer", "", "Compressed signer public key in hex (33 bytes)")
	cmd.Flags().StringVar(&sigHex, "signature", "", "Compact ECDSA signature in hex (64 or 65 bytes)")
	cmd.Flags().StringVar(&setupDir, "setup-dir", "./zk-setup", "Directory containing setup files")
	cmd.Flags().StringVar(&storePath, "store", "", "Delegation map store path (record circuit only)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for the proof (defaults to stdout)")

	return cmd
}

// verifyCmd creates the proof verification command
func verifyCmd() *cobra.Command {
	var (
		proofFile string
		setupDir  string
		vkPath    string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a delegation proof file",
		Long: `Verify a proof produced by the prove command and print the statement it
establishes. Verification is pure: only the verifying key and the proof file
are consulted, and the public inputs embedded in the proof must match the
order the file claims to cover.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if proofFile == "" {
				return fmt.Errorf("--proof is required")
			}
			outputBytes, err := os.ReadFile(proofFile)
			if err != nil {
				return fmt.Errorf("failed to read proof file: %w", err)
			}
			var output ProofOutput
			if err := json.Unmarshal(outputBytes, &output); err != nil {
				return fmt.Errorf("failed to parse proof file: %w", err)
			}

			proofBytes, err := hex.DecodeString(output.ProofData)
			if err != nil {
				return fmt.Errorf("invalid proof hex: %w", err)
			}
			proof, err := zk.ProofFromBytes(proofBytes)
			if err != nil {
				return err
			}

			kind := zk.CircuitDelegate
			if output.Circuit == "record" {
				kind = zk.CircuitRecord
			}
			verifier, err := loadVerifier(setupDir, vkPath, kind)
			if err != nil {
				return err
			}

			if err := verifier.VerifyProof(proof); err != nil {
				return err
			}

			declared, err := parseOrder(output.Target, output.Signer)
			if err != nil {
				return fmt.Errorf("proof file carries a malformed order: %w", err)
			}

			switch kind {
			case zk.CircuitRecord:
				publics, err := zk.ExtractRecordPublics(proof)
				if err != nil {
					return err
				}
				if !publics.Order.Equal(declared) {
					return fmt.Errorf("proof covers a different order than the file declares")
				}
				fmt.Println("Proof verified.")
				printOrder(publics.Order)
				fmt.Printf("Old root:  %s\n", hex.EncodeToString(publics.OldRoot[:]))
				fmt.Printf("New root:  %s\n", hex.EncodeToString(publics.NewRoot[:]))

			default:
				extracted, err := zk.ExtractDelegateOrder(proof)
				if err != nil {
					return err
				}
				if !extracted.Equal(declared) {
					return fmt.Errorf("proof covers a different order than the file declares")
				}
				fmt.Println("Proof verified.")
				printOrder(extracted)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&proofFile, "proof", "", "Path to the proof JSON file")
	cmd.Flags().StringVar(&setupDir, "setup-dir", "./zk-setup", "Directory containing setup files")
	cmd.Flags().StringVar(&vkPath, "vk", "", "Path to the verifying key (overrides --setup-dir)")

	return cmd
}

// loadProvingArtifacts reads the compiled circuit and proving key for kind.
func loadProvingArtifacts(setupDir string, kind zk.CircuitKind) (constraint.ConstraintSystem, plonk.ProvingKey, error) {
	base := strings.ToLower(kind.String())

	csBytes, err := os.ReadFile(filepath.Join(setupDir, base+".cs"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read constraint system: %w", err)
	}
	cs, err := zk.DeserializeConstraintSystem(csBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to deserialize constraint system: %w", err)
	}

	pkBytes, err := os.ReadFile(filepath.Join(setupDir, base+".pk"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read proving key: %w", err)
	}
	pk, err := zk.DeserializeProvingKey(pkBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to deserialize proving key: %w", err)
	}

	return cs, pk, nil
}

// printOrder renders the order a proof establishes.
func printOrder(ord *order.DelegationOrder) {
	compressed := ord.Target.Compressed()
	hash := order.Hash(ord)
	fmt.Printf("Target:    %s\n", hex.EncodeToString(compressed[:]))
	fmt.Printf("Signer:    %s\n", hex.EncodeToString(ord.Signer.Compressed()))
	fmt.Printf("Order:     %s\n", hex.EncodeToString(hash[:]))
}

// openStoreMap opens the persistent delegation map at path.
func openStoreMap(path string) (*merklemap.Map, error) {
	if path == "" {
		path = cliConfig.StorePath
	}
	if path == "" {
		return nil, fmt.Errorf("no store path: pass --store or set store_path in the config")
	}
	store, err := merklemap.OpenStore(path, false)
	if err != nil {
		return nil, err
	}
	return merklemap.NewWithStore(store)
}

// loadVerifier builds a verifier from --vk, or from <kind>.vk under the
// setup directory.
func loadVerifier(setupDir, vkPath string, kind zk.CircuitKind) (*zk.Verifier, error) {
	if vkPath == "" {
		vkPath = filepath.Join(setupDir, strings.ToLower(kind.String())+".vk")
	}
	vkBytes, err := os.ReadFile(vkPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read verifying key: %w", err)
	}
	return zk.NewVerifierFromBytes(vkBytes)
}
