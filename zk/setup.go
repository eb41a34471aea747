// Package zk builds and verifies the PLONK proofs behind delegation records:
// the authorization proof over a delegation order and the recording proof
// that additionally carries an old-root to new-root map transition. Proofs
// are over BN254 so that the map's MiMC digests are native field arithmetic.
package zk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/kzg"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/std/math/emulated"
	"github.com/consensys/gnark/test/unsafekzg"
	ptau "github.com/mdehoog/gnark-ptau"
	"golang.org/x/crypto/blake2b"
)

const (
	// MaxProofDataLen is the maximum allowed proof data length (1MB).
	// PLONK proofs are typically ~1KB, so 1MB provides ample headroom.
	MaxProofDataLen = 1024 * 1024

	// MinProofDataLen is the minimum valid proof length.
	// A valid PLONK proof must be at least a few hundred bytes.
	MinProofDataLen = 100

	// HermezPtauURL is the URL template for downloading Hermez Powers of Tau
	// files. Use %d to specify the power.
	HermezPtauURL = "https://storage.googleapis.com/zkevm/ptau/powersOfTau28_hez_final_%02d.ptau"

	// DefaultPtauPower sizes the SRS at 2^21 constraints, which covers both
	// circuits with headroom.
	DefaultPtauPower = 21
)

// Blake2b hashes for Hermez Powers of Tau ceremony outputs.
// From official snarkjs docs: https://github.com/iden3/snarkjs#7-prepare-phase-2
var ptauBlake2bHashes = map[int]string{
	21: "9aef0573cef4ded9c4a75f148709056bf989f80dad96876aadeb6f1c6d062391f07a394a9e756d16f7eb233198d5b69407cca44594c763ab4a5b67ae73254678",
}

// Secp256k1Fp is the base field of secp256k1
type Secp256k1Fp = emulated.Secp256k1Fp

// Secp256k1Fr is the scalar field of secp256k1
type Secp256k1Fr = emulated.Secp256k1Fr

// SetupResult contains the compiled circuit and keys from PLONK setup
type SetupResult struct {
	ConstraintSystem constraint.ConstraintSystem
	ProvingKey       plonk.ProvingKey
	VerifyingKey     plonk.VerifyingKey
}

// SetupMode specifies how the SRS should be obtained
type SetupMode int

const (
	// SetupModeTest uses an unsafe test SRS (development only)
	SetupModeTest SetupMode = iota
	// SetupModeFile loads SRS from a file
	SetupModeFile
	// SetupModeDownload downloads and caches the Hermez Powers of Tau
	SetupModeDownload
)

// SetupOptions configures the setup process
type SetupOptions struct {
	Mode SetupMode
	// SRSPath is the path to the SRS file (for SetupModeFile)
	SRSPath string
	// SRSLagrangePath is the path to the SRS Lagrange file (for SetupModeFile)
	SRSLagrangePath string
	// CacheDir is the directory to cache downloaded SRS files
	CacheDir string
	// PtauPower is the power for the PTAU file (default: DefaultPtauPower)
	PtauPower int
}

// DefaultSetupOptions returns default setup options for production.
// It will download and cache the Hermez Powers of Tau SRS.
func DefaultSetupOptions() SetupOptions {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return SetupOptions{
		Mode:      SetupModeDownload,
		CacheDir:  filepath.Join(homeDir, ".zkdelegate", "srs-cache"),
		PtauPower: DefaultPtauPower,
	}
}

// TestSetupOptions returns setup options for testing.
// WARNING: Uses unsafe test SRS - DO NOT use in production!
func TestSetupOptions() SetupOptions {
	return SetupOptions{
		Mode: SetupModeTest,
	}
}

// SetupDelegateWithOptions performs PLONK setup for the DelegateCircuit.
func SetupDelegateWithOptions(opts SetupOptions) (*SetupResult, error) {
	return SetupCircuitWithOptions(NewDelegateCircuitPlaceholder(), opts)
}

// SetupRecordWithOptions performs PLONK setup for the RecordCircuit.
func SetupRecordWithOptions(opts SetupOptions) (*SetupResult, error) {
	return SetupCircuitWithOptions(NewRecordCircuitPlaceholder(), opts)
}

// Setup performs PLONK setup for the named circuit kind.
func Setup(kind CircuitKind, opts SetupOptions) (*SetupResult, error) {
	switch kind {
	case CircuitDelegate:
		return SetupDelegateWithOptions(opts)
	case CircuitRecord:
		return SetupRecordWithOptions(opts)
	default:
		return nil, fmt.Errorf("unknown circuit kind: %d", kind)
	}
}

// SetupCircuitWithOptions performs PLONK setup for any circuit.
func SetupCircuitWithOptions(circuit frontend.Circuit, opts SetupOptions) (*SetupResult, error) {
	// Compile the circuit to SCS (Sparse Constraint System for PLONK)
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("failed to compile circuit: %w", err)
	}

	fmt.Printf("Circuit compiled: %d constraints\n", cs.GetNbConstraints())

	var srs, srsLagrange *kzg.SRS

	switch opts.Mode {
	case SetupModeTest:
		// Generate a test SRS (for development only)
		// WARNING: This is NOT secure for production!
		srsCanon, srsLag, err := unsafekzg.NewSRS(cs)
		if err != nil {
			return nil, fmt.Errorf("failed to generate test SRS: %w", err)
		}
		srs = srsCanon.(*kzg.SRS)
		srsLagrange = srsLag.(*kzg.SRS)

	case SetupModeFile:
		srs, err = LoadBN254SRSFromFile(opts.SRSPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load SRS from %s: %w", opts.SRSPath, err)
		}
		srsLagrange, err = LoadBN254SRSFromFile(opts.SRSLagrangePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load SRS Lagrange from %s: %w", opts.SRSLagrangePath, err)
		}

	case SetupModeDownload:
		power := opts.PtauPower
		if power == 0 {
			power = DefaultPtauPower
		}
		srs, srsLagrange, err = LoadOrDownloadHermezSRS(opts.CacheDir, power, cs.GetNbConstraints())
		if err != nil {
			return nil, fmt.Errorf("failed to load/download Hermez SRS: %w", err)
		}

	default:
		return nil, fmt.Errorf("unknown setup mode: %d", opts.Mode)
	}

	// Run the PLONK setup
	pk, vk, err := plonk.Setup(cs, srs, srsLagrange)
	if err != nil {
		return nil, fmt.Errorf("failed to run PLONK setup: %w", err)
	}

	return &SetupResult{
		ConstraintSystem: cs,
		ProvingKey:       pk,
		VerifyingKey:     vk,
	}, nil
}

// LoadBN254SRSFromFile loads a BN254 KZG SRS from a gnark-formatted file
func LoadBN254SRSFromFile(path string) (*kzg.SRS, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SRS file: %w", err)
	}
	defer f.Close()

	var srs kzg.SRS
	_, err = srs.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read SRS: %w", err)
	}

	return &srs, nil
}

// DownloadFile fetches url into localFilePathName. PTAU files are hundreds of
// megabytes, so the request runs with a generous timeout.
func DownloadFile(url, localFilePathName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download PTAU: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download PTAU: HTTP %d", resp.StatusCode)
	}
	f, err := os.Create(localFilePathName)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to save PTAU to local file: %w", err)
	}
	return nil
}

// LoadOrDownloadHermezSRS loads the Hermez Powers of Tau SRS from cache,
// or downloads it if not cached. The SRS is converted to gnark format.
func LoadOrDownloadHermezSRS(cacheDir string, power int, minConstraints int) (*kzg.SRS, *kzg.SRS, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	maxConstraints := 1 << power
	if minConstraints > maxConstraints {
		return nil, nil, fmt.Errorf("circuit has %d constraints but SRS only supports %d (2^%d); increase power",
			minConstraints, maxConstraints, power)
	}

	srsPath := filepath.Join(cacheDir, fmt.Sprintf("srs_bn254_%d.dat", power))
	srsLagrangePath := filepath.Join(cacheDir, fmt.Sprintf("srs_lagrange_bn254_%d_%d.dat", power, minConstraints))
	rawPtauPath := filepath.Join(cacheDir, fmt.Sprintf("raw_ptau_bn254_%d.dat", power))

	if fileExists(srsPath) && fileExists(srsLagrangePath) {
		fmt.Printf("Loading cached SRS from %s\n", cacheDir)
		srs, err := LoadBN254SRSFromFile(srsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load cached SRS: %w", err)
		}
		srsLagrange, err := LoadBN254SRSFromFile(srsLagrangePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load cached SRS Lagrange: %w", err)
		}
		return srs, srsLagrange, nil
	}

	if !fileExists(rawPtauPath) {
		ptauURL := fmt.Sprintf(HermezPtauURL, power)
		fmt.Printf("Downloading Hermez Powers of Tau (2^%d), from %s...\n", power, ptauURL)
		if err := DownloadFile(ptauURL, rawPtauPath); err != nil {
			return nil, nil, fmt.Errorf("failed to download PTAU file: %w", err)
		}

		// Verify Blake2b hash (security check against tampering)
		// Hashes from: https://github.com/iden3/snarkjs#7-prepare-phase-2
		if expectedHash, ok := ptauBlake2bHashes[power]; ok {
			if err := verifyFileBlake2b(rawPtauPath, expectedHash); err != nil {
				os.Remove(rawPtauPath)
				return nil, nil, fmt.Errorf("PTAU hash verification failed: %w", err)
			}
			fmt.Printf("PTAU Blake2b hash verified for power %d\n", power)
		}
	}

	file, err := os.Open(rawPtauPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open downloaded PTAU file: %w", err)
	}
	defer file.Close()
	srs, err := ptau.ToSRS(file)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert PTAU to gnark SRS: %w", err)
	}

	// PLONK wants the SRS in Lagrange form sized to the next power of two
	// that fits the constraint count.
	lagrangeSize := nextPowerOfTwo(minConstraints)
	fmt.Printf("Generating Lagrange SRS for size %d...\n", lagrangeSize)

	srsLagrange, err := kzg.ToLagrangeG1(srs.Pk.G1[:lagrangeSize])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute Lagrange SRS: %w", err)
	}

	srsLagrangeResult := &kzg.SRS{
		Pk: kzg.ProvingKey{
			G1: srsLagrange,
		},
		Vk: srs.Vk,
	}

	fmt.Printf("Caching SRS to %s\n", cacheDir)
	if err := saveBN254SRSToFile(srs, srsPath); err != nil {
		fmt.Printf("Warning: failed to cache SRS: %v\n", err)
	}
	if err := saveBN254SRSToFile(srsLagrangeResult, srsLagrangePath); err != nil {
		fmt.Printf("Warning: failed to cache SRS Lagrange: %v\n", err)
	}

	return srs, srsLagrangeResult, nil
}

// nextPowerOfTwo returns the smallest power of 2 >= n
func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

func fileExists(path string) bool {
	f, err := os.Stat(path)
	return err == nil && !f.IsDir()
}

// verifyFileBlake2b verifies the Blake2b-512 hash of a file against an expected hash.
// Uses streaming to avoid loading large PTAU files (hundreds of MB) into memory.
func verifyFileBlake2b(filePath, expectedHash string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hash, err := blake2b.New512(nil)
	if err != nil {
		return fmt.Errorf("failed to create blake2b hasher: %w", err)
	}
	if _, err := io.Copy(hash, file); err != nil {
		return fmt.Errorf("failed to hash file: %w", err)
	}
	actualHash := fmt.Sprintf("%x", hash.Sum(nil))

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch: expected %s, got %s", expectedHash, actualHash)
	}
	return nil
}

func saveBN254SRSToFile(srs *kzg.SRS, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = srs.WriteTo(f)
	return err
}

// SerializeVerifyingKey serializes the verifying key to bytes
func SerializeVerifyingKey(vk plonk.VerifyingKey) ([]byte, error) {
	var buf bytes.Buffer
	_, err := vk.WriteTo(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize verifying key: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeVerifyingKey deserializes a verifying key from bytes
func DeserializeVerifyingKey(data []byte) (plonk.VerifyingKey, error) {
	vk := plonk.NewVerifyingKey(ecc.BN254)
	_, err := vk.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize verifying key: %w", err)
	}
	return vk, nil
}

// SerializeProvingKey serializes the proving key to bytes
func SerializeProvingKey(pk plonk.ProvingKey) ([]byte, error) {
	var buf bytes.Buffer
	_, err := pk.WriteTo(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize proving key: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeProvingKey deserializes a proving key from bytes
func DeserializeProvingKey(data []byte) (plonk.ProvingKey, error) {
	pk := plonk.NewProvingKey(ecc.BN254)
	_, err := pk.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize proving key: %w", err)
	}
	return pk, nil
}

// SerializeConstraintSystem serializes the constraint system to bytes
func SerializeConstraintSystem(cs constraint.ConstraintSystem) ([]byte, error) {
	var buf bytes.Buffer
	_, err := cs.WriteTo(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize constraint system: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeConstraintSystem deserializes a constraint system from bytes
func DeserializeConstraintSystem(data []byte) (constraint.ConstraintSystem, error) {
	cs := plonk.NewCS(ecc.BN254)
	_, err := cs.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize constraint system: %w", err)
	}
	return cs, nil
}

// SaveSetupToWriter writes the setup result to a writer
func SaveSetupToWriter(setup *SetupResult, w io.Writer) error {
	_, err := setup.ConstraintSystem.WriteTo(w)
	if err != nil {
		return fmt.Errorf("failed to write constraint system: %w", err)
	}
	_, err = setup.ProvingKey.WriteTo(w)
	if err != nil {
		return fmt.Errorf("failed to write proving key: %w", err)
	}
	_, err = setup.VerifyingKey.WriteTo(w)
	if err != nil {
		return fmt.Errorf("failed to write verifying key: %w", err)
	}
	return nil
}

// LoadSetupFromReader reads a setup result from a reader
func LoadSetupFromReader(r io.Reader) (*SetupResult, error) {
	setup := &SetupResult{}

	cs := plonk.NewCS(ecc.BN254)
	_, err := cs.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read constraint system: %w", err)
	}
	setup.ConstraintSystem = cs

	pk := plonk.NewProvingKey(ecc.BN254)
	_, err = pk.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read proving key: %w", err)
	}
	setup.ProvingKey = pk

	vk := plonk.NewVerifyingKey(ecc.BN254)
	_, err = vk.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read verifying key: %w", err)
	}
	setup.VerifyingKey = vk

	return setup, nil
}
