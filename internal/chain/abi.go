package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract method and event names.
const (
	MethodPlay         = "jouer"
	MethodStats        = "obtenirStats"
	MethodPlayerExists = "joueurExiste"
	MethodVersion      = "version"
	EventPlayed        = "PartieJouee"
)

// contractABIJSON is the consumed surface of the RockPaperScissors contract.
const contractABIJSON = `[
  {"inputs":[{"internalType":"uint256","name":"_choix","type":"uint256"}],
   "name":"jouer","outputs":[{"internalType":"string","name":"","type":"string"}],
   "stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"obtenirStats","outputs":[
     {"internalType":"uint256","name":"victoires","type":"uint256"},
     {"internalType":"uint256","name":"defaites","type":"uint256"},
     {"internalType":"uint256","name":"egalites","type":"uint256"},
     {"internalType":"uint256","name":"totalParties","type":"uint256"},
     {"internalType":"uint256","name":"tauxVictoire","type":"uint256"},
     {"internalType":"uint256","name":"serieActuelle","type":"uint256"},
     {"internalType":"uint256","name":"meilleureSerie","type":"uint256"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"_joueur","type":"address"}],
   "name":"joueurExiste","outputs":[{"internalType":"bool","name":"","type":"bool"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[],"name":"version","outputs":[{"internalType":"string","name":"","type":"string"}],
   "stateMutability":"pure","type":"function"},
  {"anonymous":false,"inputs":[
     {"indexed":true,"internalType":"address","name":"joueur","type":"address"},
     {"indexed":false,"internalType":"uint256","name":"choixJoueur","type":"uint256"},
     {"indexed":false,"internalType":"uint256","name":"choixOrdinateur","type":"uint256"},
     {"indexed":false,"internalType":"string","name":"resultat","type":"string"}],
   "name":"PartieJouee","type":"event"}
]`

// ContractABI is the parsed contract interface.
var ContractABI = mustParseABI(contractABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid contract ABI: " + err.Error())
	}
	return parsed
}
