// warden-keygen generates the RSA-2048 keypair used for the gateway's key
// exchange. The private key stays on the host (pointed to by
// gateway.private_key_file); the public key is distributed to every client
// that needs to connect.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"log"
	"os"
)

var (
	privateKeyFile = flag.String("key", "warden_key.pem", "File the private key is written to")
	publicKeyFile  = flag.String("pub", "warden_key.pub.pem", "File the public key is written to")
)

func main() {
	flag.Parse()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatalf("Error generating RSA key: %s\n", err)
	}

	keyOut, err := os.OpenFile(*privateKeyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		log.Fatalf("failed to open %s for writing: %s", *privateKeyFile, err)
	}
	pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	keyOut.Close()
	log.Printf("written %s\n", *privateKeyFile)

	pubOut, err := os.Create(*publicKeyFile)
	if err != nil {
		log.Fatalf("failed to open %s for writing: %s", *publicKeyFile, err)
	}
	pem.Encode(pubOut, &pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey)})
	pubOut.Close()
	log.Printf("written %s\n", *publicKeyFile)

	log.Printf("Point gateway.private_key_file at %s and distribute %s to connecting clients\n",
		*privateKeyFile, *publicKeyFile)
}
