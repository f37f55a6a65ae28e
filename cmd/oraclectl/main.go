// Command oraclectl manages oracle keys, checks attestation signatures, and
// runs a self-contained demonstration against the in-process ledger.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"shiporacle/attestation/canonical"
	"shiporacle/attestation/signer"

	"github.com/fatih/color"
)

const usage = `usage: oraclectl <command> [flags]

commands:
  keygen   generate an Ed25519 oracle key
  encode   print the canonical signed bytes of a record
  sign     sign a record with a hex seed
  verify   verify a record signature against a public key
  demo     run the attestation scenarios on an in-process ledger
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = keygen(os.Args[2:])
	case "encode":
		err = encode(os.Args[2:])
	case "sign":
		err = sign(os.Args[2:])
	case "verify":
		err = verify(os.Args[2:])
	case "demo":
		err = demo(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

type recordFlags struct {
	shipmentID string
	summary    string
	score      int
}

func (r *recordFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.shipmentID, "id", "", "shipment id")
	fs.StringVar(&r.summary, "summary", "", "report summary")
	fs.IntVar(&r.score, "score", 0, "confidence score")
}

func (r *recordFlags) bytes() ([]byte, error) {
	if r.shipmentID == "" {
		return nil, fmt.Errorf("-id is required")
	}
	return canonical.Encode(r.shipmentID, r.summary, r.score), nil
}

func keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "", "write the hex seed to this file instead of stdout")
	_ = fs.Parse(args)

	seedHex, pubHex, err := signer.Generate()
	if err != nil {
		return err
	}
	s, err := signer.FromHex(seedHex)
	if err != nil {
		return err
	}
	if *out != "" {
		if err := os.WriteFile(*out, []byte(seedHex+"\n"), 0o600); err != nil {
			return err
		}
		fmt.Printf("seed:       written to %s\n", *out)
	} else {
		fmt.Printf("seed:       %s\n", seedHex)
	}
	fmt.Printf("public key: %s\n", pubHex)
	fmt.Printf("address:    %s\n", s.Address())
	color.Yellow("keep the seed secret; set it as ORACLE_PRIVATE_KEY or point signer.key_file at it")
	return nil
}

func encode(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	var rec recordFlags
	rec.register(fs)
	_ = fs.Parse(args)

	msg, err := rec.bytes()
	if err != nil {
		return err
	}
	digest := sha256.Sum256(msg)
	fmt.Printf("canonical: %s\n", hex.EncodeToString(msg))
	fmt.Printf("sha256:    %s\n", hex.EncodeToString(digest[:]))
	return nil
}

func sign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	var rec recordFlags
	rec.register(fs)
	key := fs.String("key", os.Getenv("ORACLE_PRIVATE_KEY"), "hex seed (default $ORACLE_PRIVATE_KEY)")
	_ = fs.Parse(args)

	msg, err := rec.bytes()
	if err != nil {
		return err
	}
	s, err := signer.FromHex(*key)
	if err != nil {
		return err
	}
	sig, err := s.Sign(msg)
	if err != nil {
		return err
	}
	fmt.Printf("signature: %s\n", hex.EncodeToString(sig))
	fmt.Printf("signer:    %s\n", s.Address())
	return nil
}

func verify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	var rec recordFlags
	rec.register(fs)
	pubHex := fs.String("pub", "", "hex public key")
	sigHex := fs.String("sig", "", "hex signature")
	_ = fs.Parse(args)

	msg, err := rec.bytes()
	if err != nil {
		return err
	}
	pub, err := hex.DecodeString(*pubHex)
	if err != nil {
		return fmt.Errorf("invalid -pub: %w", err)
	}
	sig, err := hex.DecodeString(*sigHex)
	if err != nil {
		return fmt.Errorf("invalid -sig: %w", err)
	}
	if !signer.Verify(msg, sig, pub) {
		color.Red("✗ signature does not match")
		os.Exit(1)
	}
	color.Green("✓ signature valid for %s", signer.AddressOf(pub))
	return nil
}
