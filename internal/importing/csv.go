package importing

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// exportPageSize is how many users each keyset page of an export pulls.
const exportPageSize = 500

var csvHeader = []string{"id", "firstName", "lastName", "city", "state", "age", "email", "phone", "gender"}

// UserPager reads users in keyset-paginated pages. Satisfied by *UserStore.
type UserPager interface {
	StreamUsers(ctx context.Context, afterID int64, limit int) ([]UserRecord, error)
}

// WriteUsersCSV streams every stored user to w as CSV, paging through the
// store so memory stays flat no matter how large the table is.
// Returns the number of exported users.
func WriteUsersCSV(ctx context.Context, w io.Writer, pager UserPager) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	var exported int
	var afterID int64
	for {
		users, err := pager.StreamUsers(ctx, afterID, exportPageSize)
		if err != nil {
			return exported, err
		}
		if len(users) == 0 {
			break
		}
		for _, u := range users {
			record := []string{
				strconv.FormatInt(u.ID, 10),
				u.FirstName, u.LastName, u.City, u.State,
				strconv.Itoa(u.Age), u.Email, u.Phone, u.Gender,
			}
			if err := cw.Write(record); err != nil {
				return exported, fmt.Errorf("write csv row: %w", err)
			}
			exported++
		}
		afterID = users[len(users)-1].ID
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return exported, fmt.Errorf("flush csv: %w", err)
	}
	return exported, nil
}
