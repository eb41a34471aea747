package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zkdelegate-org/zkdelegate/merklemap"
	"github.com/zkdelegate-org/zkdelegate/metrics"
	"github.com/zkdelegate-org/zkdelegate/order"
	"github.com/zkdelegate-org/zkdelegate/registry"
	"github.com/zkdelegate-org/zkdelegate/zk"
)

// recordCmd creates the command that records a delegation in the store
func recordCmd() *cobra.Command {
	var (
		storePath string
		targetHex string
		signerHex string
		sigHex    string
		proofFile string
		vkPath    string
		setupDir  string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a delegation in the store-backed registry",
		Long: `Record a delegation order: the order's leaf in the delegation map moves
from zero to one and the registry root advances.

The transition is authorized either by the order's compact signature
(--signature) or by a recording proof generated elsewhere (--proof), in
which case the signature never reaches this process and the proof's old
root must match the store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (sigHex == "") == (proofFile == "") {
				return fmt.Errorf("exactly one of --signature and --proof is required")
			}

			m, err := openStoreMap(storePath)
			if err != nil {
				return err
			}
			defer m.Close()

			if proofFile != "" {
				return recordFromProof(m, proofFile, vkPath, setupDir)
			}

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

			oldRoot := m.Root()
			reg := registry.NewWithRoot(oldRoot, nil, metricsFromConfig())
			w, recorded, err := m.RecordCandidate(ord)
			if err != nil {
				return err
			}
			if !recorded {
				hash := order.Hash(ord)
				fmt.Printf("Order %s is already delegated.\n", hex.EncodeToString(hash[:]))
				fmt.Printf("Root: %s\n", hex.EncodeToString(oldRoot[:]))
				return nil
			}

			newRoot, err := reg.Record(ord, w, sig)
			if err != nil {
				return err
			}

			hash := order.Hash(ord)
			fmt.Println("Delegation recorded.")
			fmt.Printf("Order:    %s\n", hex.EncodeToString(hash[:]))
			fmt.Printf("Old root: %s\n", hex.EncodeToString(oldRoot[:]))
			fmt.Printf("New root: %s\n", hex.EncodeToString(newRoot[:]))
			return nil
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "Delegation map store path (default: store_path from config)")
	cmd.Flags().StringVar(&targetHex, "target", "", "Compressed target account in hex (33 bytes)")
	cmd.Flags().StringVar(&signerHex, "signer", "", "Compressed signer public key in hex (33 bytes)")
	cmd.Flags().StringVar(&sigHex, "signature", "", "Compact ECDSA signature in hex (64 or 65 bytes)")
	cmd.Flags().StringVar(&proofFile, "proof", "", "Path to a record proof JSON file")
	cmd.Flags().StringVar(&vkPath, "vk", "", "Path to the record verifying key (with --proof)")
	cmd.Flags().StringVar(&setupDir, "setup-dir", "./zk-setup", "Directory containing setup files (with --proof)")

	return cmd
}

// confirmCmd creates the command that confirms a delegation against the store
func confirmCmd() *cobra.Command {
	var (
		storePath string
		targetHex string
		signerHex string
	)

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm that an order is delegated under the current root",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openStoreMap(storePath)
			if err != nil {
				return err
			}
			defer m.Close()

			ord, err := parseOrder(targetHex, signerHex)
			if err != nil {
				return err
			}

			w, present, err := m.QueryCandidate(ord)
			if err != nil {
				return err
			}
			hash := order.Hash(ord)
			if !present {
				return fmt.Errorf("order %s is not delegated", hex.EncodeToString(hash[:]))
			}

			reg := registry.NewWithRoot(m.Root(), nil, metricsFromConfig())
			if err := reg.Confirm(ord, w); err != nil {
				return err
			}

			root := m.Root()
			fmt.Println("Delegation confirmed.")
			fmt.Printf("Order: %s\n", hex.EncodeToString(hash[:]))
			fmt.Printf("Root:  %s\n", hex.EncodeToString(root[:]))
			return nil
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "Delegation map store path (default: store_path from config)")
	cmd.Flags().StringVar(&targetHex, "target", "", "Compressed target account in hex (33 bytes)")
	cmd.Flags().StringVar(&signerHex, "signer", "", "Compressed signer public key in hex (33 bytes)")

	return cmd
}

// stateRootCmd creates the command that prints the store's committed root
func stateRootCmd() *cobra.Command {
	var storePath string

	cmd := &cobra.Command{
		Use:   "root",
		Short: "Print the current delegation map root",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openStoreMap(storePath)
			if err != nil {
				return err
			}
			defer m.Close()

			root := m.Root()
			fmt.Printf("Root:        %s\n", hex.EncodeToString(root[:]))
			fmt.Printf("Delegations: %d\n", m.Len())
			return nil
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "Delegation map store path (default: store_path from config)")
	return cmd
}

// recordFromProof lands a proved transition in the store. The registry
// verifies the proof against its root, then the map applies the same leaf
// and must land on the proven new root.
func recordFromProof(m *merklemap.Map, proofFile, vkPath, setupDir string) error {
	outputBytes, err := os.ReadFile(proofFile)
	if err != nil {
		return fmt.Errorf("failed to read proof file: %w", err)
	}
	var output ProofOutput
	if err := json.Unmarshal(outputBytes, &output); err != nil {
		return fmt.Errorf("failed to parse proof file: %w", err)
	}
	if output.Circuit != "record" {
		return fmt.Errorf("proof file is for the %s circuit, want record", output.Circuit)
	}

	proofBytes, err := hex.DecodeString(output.ProofData)
	if err != nil {
		return fmt.Errorf("invalid proof hex: %w", err)
	}
	proof, err := zk.ProofFromBytes(proofBytes)
	if err != nil {
		return err
	}

	if vkPath == "" {
		vkPath = filepath.Join(setupDir, "record.vk")
	}
	vkBytes, err := os.ReadFile(vkPath)
	if err != nil {
		return fmt.Errorf("failed to read verifying key: %w", err)
	}
	mv := zk.NewMultiVerifier()
	if err := mv.RegisterCircuitFromBytes(zk.CircuitRecord, vkBytes); err != nil {
		return err
	}

	reg := registry.NewWithRoot(m.Root(), mv, metricsFromConfig())
	newRoot, err := reg.SubmitTransition(proof)
	if err != nil {
		return err
	}

	publics, err := zk.ExtractRecordPublics(proof)
	if err != nil {
		return err
	}
	key := order.Hash(publics.Order)
	storeRoot, err := m.Set(key, 1)
	if err != nil {
		return err
	}
	if storeRoot != newRoot {
		return fmt.Errorf("store root %s does not match proven root %s",
			hex.EncodeToString(storeRoot[:]), hex.EncodeToString(newRoot[:]))
	}

	fmt.Println("Delegation recorded from proof.")
	fmt.Printf("Order:    %s\n", hex.EncodeToString(key[:]))
	fmt.Printf("New root: %s\n", hex.EncodeToString(newRoot[:]))
	return nil
}

// metricsFromConfig starts the metrics listener when the config enables it.
func metricsFromConfig() *metrics.Metrics {
	if cliConfig == nil || !cliConfig.Metrics.Enabled {
		return nil
	}
	m := metrics.NewMetrics()
	mux := http.NewServeMux()
	metrics.RegisterHandlers(mux)
	go func() {
		if err := http.ListenAndServe(cliConfig.Metrics.ListenAddr, mux); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return m
}
