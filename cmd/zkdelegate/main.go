// Package main provides the zkdelegate CLI: trusted setup, key generation,
// proof generation and verification, and the store-backed delegation
// registry commands.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zkdelegate-org/zkdelegate/config"
	"github.com/zkdelegate-org/zkdelegate/order"
	"github.com/zkdelegate-org/zkdelegate/zk"
)

var (
	configPath string
	logLevel   string
	cliConfig  *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zkdelegate",
		Short: "Delegation orders, proofs and the authenticated delegation registry",
		Long: `zkdelegate manages secp256k1-signed delegation orders and the
zero-knowledge proofs around them.

A delegation order binds a target account on the embedded curve to a signer
key. Orders are authorized with personal-sign ECDSA signatures, recorded in
an authenticated map whose root the registry commits, and proven either
directly (authorization only) or as a full map transition.

Uses PLONK proof system with Hermez Powers of Tau ceremony SRS.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.GetConfig(configPath)
			if err != nil {
				return err
			}
			cliConfig = cfg

			level := logLevel
			if level == "" {
				level = cfg.LogLevel
			}
			lvl, err := zerolog.ParseLevel(level)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", level, err)
			}
			zerolog.SetGlobalLevel(lvl)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to JSON config file (default: ./config.json if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn or error")

	rootCmd.AddCommand(
		setupCmd(),
		keygenCmd(),
		messageCmd(),
		proveCmd(),
		verifyCmd(),
		recordCmd(),
		confirmCmd(),
		stateRootCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupCmd creates the trusted setup command
func setupCmd() *cobra.Command {
	var (
		outputDir       string
		circuitName     string
		testMode        bool
		cacheDir        string
		srsPath         string
		srsLagrangePath string
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Generate PLONK trusted setup for the delegation circuits",
		Long: `Generate the trusted setup for the delegate and record circuits using
PLONK. This creates, per circuit, the compiled constraint system, the proving
key and the verifying key.

By default, this command downloads and uses the Hermez/Polygon Powers of Tau
ceremony SRS, which is a production-ready trusted setup. The SRS is cached
locally for future use.

Use --test flag only for development/testing with an unsafe test SRS.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := circuitKinds(circuitName)
			if err != nil {
				return err
			}

			fmt.Println("Generating PLONK trusted setup...")
			fmt.Println("This may take a few minutes...")

			var opts zk.SetupOptions
			switch {
			case testMode:
				fmt.Println("")
				fmt.Println("⚠️  WARNING: Using UNSAFE test SRS!")
				fmt.Println("⚠️  DO NOT use these keys in production!")
				fmt.Println("⚠️  Anyone can forge proofs with test SRS keys.")
				fmt.Println("")
				opts = zk.TestSetupOptions()
			case srsPath != "":
				if srsLagrangePath == "" {
					return fmt.Errorf("--srs-lagrange is required with --srs")
				}
				opts = zk.SetupOptions{
					Mode:            zk.SetupModeFile,
					SRSPath:         srsPath,
					SRSLagrangePath: srsLagrangePath,
				}
			default:
				fmt.Println("")
				fmt.Println("✓ Using Hermez/Polygon Powers of Tau ceremony SRS")
				fmt.Println("✓ This is a production-ready trusted setup")
				fmt.Println("")
				opts = zk.DefaultSetupOptions()
				if cacheDir != "" {
					opts.CacheDir = cacheDir
				}
			}

			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			for _, kind := range kinds {
				fmt.Printf("\nSetting up the %s circuit...\n", strings.ToLower(kind.String()))
				setup, err := zk.Setup(kind, opts)
				if err != nil {
					return fmt.Errorf("setup failed for %s circuit: %w", strings.ToLower(kind.String()), err)
				}
				if err := writeSetupFiles(outputDir, kind, setup); err != nil {
					return err
				}
			}

			fmt.Println("\nSetup complete!")
			fmt.Println("Use the .cs and .pk files to generate proofs.")
			fmt.Println("Distribute the .vk.hex content to verifiers.")

			if testMode {
				fmt.Println("")
				fmt.Println("⚠️  REMINDER: These are TEST keys - do not use in production!")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "./zk-setup", "Output directory for keys")
	cmd.Flags().StringVar(&circuitName, "circuit", "all", "Circuit to set up: delegate, record or all")
	cmd.Flags().BoolVar(&testMode, "test", false, "Use unsafe test SRS (development only, DO NOT use in production)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Directory to cache downloaded SRS files (default: ~/.zkdelegate/srs-cache)")
	cmd.Flags().StringVar(&srsPath, "srs", "", "Path to a gnark-formatted SRS file (skips the download)")
	cmd.Flags().StringVar(&srsLagrangePath, "srs-lagrange", "", "Path to the matching Lagrange-form SRS file")

	return cmd
}

// keygenCmd creates the key generation command
func keygenCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a fresh signer keypair and target account",
		Long: `Generate a fresh secp256k1 signer keypair together with a fresh target
account on the embedded curve. The signer private key authorizes delegation
orders; the target scalar is the delegate's own key material.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := crypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("failed to generate signer key: %w", err)
			}
			signer, err := order.SignerKeyFromPublic(&priv.PublicKey)
			if err != nil {
				return err
			}

			params := twistededwards.GetEdwardsCurve()
			scalar, err := rand.Int(rand.Reader, &params.Order)
			for err == nil && scalar.Sign() == 0 {
				scalar, err = rand.Int(rand.Reader, &params.Order)
			}
			if err != nil {
				return fmt.Errorf("failed to generate target scalar: %w", err)
			}
			target, err := order.DeriveTargetAccount(scalar)
			if err != nil {
				return err
			}

			compressed := target.Compressed()
			out := KeygenOutput{
				SignerPrivateKey: hex.EncodeToString(crypto.FromECDSA(priv)),
				SignerPublicKey:  hex.EncodeToString(signer.Compressed()),
				TargetScalar:     hex.EncodeToString(scalar.FillBytes(make([]byte, 32))),
				TargetAccount:    hex.EncodeToString(compressed[:]),
			}
			return writeJSONOutput(out, outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for the keys (defaults to stdout)")
	return cmd
}

// messageCmd creates the message inspection command
func messageCmd() *cobra.Command {
	var (
		targetHex string
		signerHex string
	)

	cmd := &cobra.Command{
		Use:   "message",
		Short: "Print the canonical message, signing digest and hash of an order",
		Long: `Print the byte strings behind a delegation order: the canonical message
a wallet signs, the personal-sign envelope, the keccak256 signing digest the
signature verifies against, and the order hash keying the delegation map.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ord, err := parseOrder(targetHex, signerHex)
			if err != nil {
				return err
			}

			digest := order.SigningDigest(ord)
			hash := order.Hash(ord)
			fmt.Printf("Canonical message: %s\n", hex.EncodeToString(order.CanonicalMessage(ord)))
			fmt.Printf("Signing envelope:  %s\n", hex.EncodeToString(order.SigningEnvelope(ord)))
			fmt.Printf("Signing digest:    %s\n", hex.EncodeToString(digest[:]))
			fmt.Printf("Order hash:        %s\n", hex.EncodeToString(hash[:]))
			return nil
		},
	}

	cmd.Flags().StringVar(&targetHex, "target", "", "Compressed target account in hex (33 bytes)")
	cmd.Flags().StringVar(&signerHex, "signer", "", "Compressed signer public key in hex (33 bytes)")
	return cmd
}

// KeygenOutput is the JSON output structure for generated keys
type KeygenOutput struct {
	SignerPrivateKey string `json:"signer_private_key"`
	SignerPublicKey  string `json:"signer_public_key"`
	TargetScalar     string `json:"target_scalar"`
	TargetAccount    string `json:"target_account"`
}

// circuitKinds resolves the --circuit flag value.
func circuitKinds(name string) ([]zk.CircuitKind, error) {
	switch strings.ToLower(name) {
	case "delegate":
		return []zk.CircuitKind{zk.CircuitDelegate}, nil
	case "record":
		return []zk.CircuitKind{zk.CircuitRecord}, nil
	case "all":
		return []zk.CircuitKind{zk.CircuitDelegate, zk.CircuitRecord}, nil
	default:
		return nil, fmt.Errorf("unknown circuit %q: want delegate, record or all", name)
	}
}

// writeSetupFiles saves one circuit's setup artifacts under dir.
func writeSetupFiles(dir string, kind zk.CircuitKind, setup *zk.SetupResult) error {
	base := strings.ToLower(kind.String())

	csBytes, err := zk.SerializeConstraintSystem(setup.ConstraintSystem)
	if err != nil {
		return fmt.Errorf("failed to serialize constraint system: %w", err)
	}
	csPath := filepath.Join(dir, base+".cs")
	if err := os.WriteFile(csPath, csBytes, 0644); err != nil {
		return fmt.Errorf("failed to write constraint system: %w", err)
	}
	fmt.Printf("Constraint system saved to: %s\n", csPath)

	pkBytes, err := zk.SerializeProvingKey(setup.ProvingKey)
	if err != nil {
		return fmt.Errorf("failed to serialize proving key: %w", err)
	}
	pkPath := filepath.Join(dir, base+".pk")
	if err := os.WriteFile(pkPath, pkBytes, 0644); err != nil {
		return fmt.Errorf("failed to write proving key: %w", err)
	}
	fmt.Printf("Proving key saved to: %s\n", pkPath)

	vkBytes, err := zk.SerializeVerifyingKey(setup.VerifyingKey)
	if err != nil {
		return fmt.Errorf("failed to serialize verifying key: %w", err)
	}
	vkPath := filepath.Join(dir, base+".vk")
	if err := os.WriteFile(vkPath, vkBytes, 0644); err != nil {
		return fmt.Errorf("failed to write verifying key: %w", err)
	}
	fmt.Printf("Verifying key saved to: %s\n", vkPath)

	vkHexPath := filepath.Join(dir, base+".vk.hex")
	if err := os.WriteFile(vkHexPath, []byte(hex.EncodeToString(vkBytes)), 0644); err != nil {
		return fmt.Errorf("failed to write verifying key hex: %w", err)
	}
	fmt.Printf("Verifying key (hex) saved to: %s\n", vkHexPath)
	return nil
}

// parseOrder builds a delegation order from compressed hex encodings.
func parseOrder(targetHex, signerHex string) (*order.DelegationOrder, error) {
	if targetHex == "" {
		return nil, fmt.Errorf("--target is required")
	}
	if signerHex == "" {
		return nil, fmt.Errorf("--signer is required")
	}

	targetBytes, err := hex.DecodeString(targetHex)
	if err != nil {
		return nil, fmt.Errorf("invalid target hex: %w", err)
	}
	target, err := order.TargetAccountFromCompressed(targetBytes)
	if err != nil {
		return nil, err
	}

	signerBytes, err := hex.DecodeString(signerHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signer hex: %w", err)
	}
	signer, err := order.SignerKeyFromCompressed(signerBytes)
	if err != nil {
		return nil, err
	}

	return order.NewDelegationOrder(target, signer)
}

// parseSignature decodes a compact hex signature.
func parseSignature(sigHex string) (*order.Signature, error) {
	if sigHex == "" {
		return nil, fmt.Errorf("--signature is required")
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	return order.SignatureFromCompact(sigBytes)
}

// writeJSONOutput marshals v and writes it to path, or stdout when path is
// empty.
func writeJSONOutput(v any, path string) error {
	outputBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize output: %w", err)
	}
	if path != "" {
		if err := os.WriteFile(path, outputBytes, 0600); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		fmt.Printf("Saved to: %s\n", path)
		return nil
	}
	fmt.Println(string(outputBytes))
	return nil
}
