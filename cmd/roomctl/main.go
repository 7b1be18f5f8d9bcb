// roomctl provisions chat rooms. Residents cannot create rooms themselves;
// an operator runs this against the same database the chat server uses.
//
// Usage:
//
//	roomctl -kind direct -members alice,bob
//	roomctl -kind group -name "Building A" -members alice,bob,carol
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/domovik/resident-chat/internal/db"
	"github.com/domovik/resident-chat/internal/rooms"
)

func main() {
	kind := flag.String("kind", "direct", "room kind: direct or group")
	name := flag.String("name", "", "display name (group rooms only)")
	members := flag.String("members", "", "comma-separated member user IDs")
	list := flag.String("list", "", "list rooms for the given user ID and exit")
	flag.Parse()

	dbConfig := db.DefaultConfig()
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		dbConfig.DSN = dsn
	}
	if v := os.Getenv("MIGRATIONS_PATH"); v != "" {
		dbConfig.MigrationsPath = v
	}
	pg, err := db.Open(dbConfig)
	if err != nil {
		log.Fatalf("roomctl: connect: %v", err)
	}
	defer pg.Close()

	store := rooms.NewStore(pg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *list != "" {
		roomList, err := store.ListRooms(ctx, *list)
		if err != nil {
			log.Fatalf("roomctl: list rooms: %v", err)
		}
		for _, r := range roomList {
			fmt.Printf("%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.Name, strings.Join(r.Members, ","))
		}
		return
	}

	ids := strings.Split(*members, ",")
	for i := range ids {
		ids[i] = strings.TrimSpace(ids[i])
	}

	var room *rooms.Room
	switch *kind {
	case rooms.KindDirect:
		if len(ids) != 2 {
			log.Fatalf("roomctl: direct rooms take exactly two members, got %d", len(ids))
		}
		room, err = store.CreateDirect(ctx, ids[0], ids[1])
	case rooms.KindGroup:
		room, err = store.CreateGroup(ctx, ids, *name)
	default:
		log.Fatalf("roomctl: unknown kind %q", *kind)
	}
	if err != nil {
		log.Fatalf("roomctl: create room: %v", err)
	}
	fmt.Println(room.ID)
}
